package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRunDelegatesToCLI(t *testing.T) {
	t.Setenv("CURELINE_STORAGE_DRIVER", "memory")
	t.Setenv("CURELINE_BLOB_DRIVER", "none")
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"seed"}, &stdout, &stderr); code != 0 {
		t.Fatalf("seed exit %d: %s", code, stderr.String())
	}
	if !bytes.Contains(stdout.Bytes(), []byte(`"CLEANROOM"`)) {
		t.Fatalf("unexpected output: %s", stdout.String())
	}
}

// TestMainExitCodes invokes main with a patched exitFunc.
func TestMainExitCodes(t *testing.T) {
	t.Setenv("CURELINE_STORAGE_DRIVER", "sqlite")
	t.Setenv("CURELINE_SQLITE_PATH", filepath.Join(t.TempDir(), "main.db"))
	t.Setenv("CURELINE_BLOB_DRIVER", "none")
	var codes []int
	old := exitFunc
	exitFunc = func(code int) { codes = append(codes, code) }
	defer func() { exitFunc = old }()
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()

	os.Args = []string{"curectl", "-log-level", "error", "seed"}
	main()
	os.Args = []string{"curectl", "no-such-command"}
	main()
	if len(codes) != 2 {
		t.Fatalf("expected two exit codes, got %v", codes)
	}
	if codes[0] != 0 || codes[1] != 2 {
		t.Fatalf("unexpected exit codes: %v", codes)
	}
}
