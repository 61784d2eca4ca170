// Command curectl operates a cureline plant from the shell.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"cureline/internal/tools/curectl"
)

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return curectl.Run(ctx, args, stdout, stderr)
}
