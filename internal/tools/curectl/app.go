// Package curectl implements the cureline operator command line. Every
// invocation opens the configured store, runs one command against the
// tracking service and prints the result as JSON.
package curectl

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"cureline/internal/blob"
	"cureline/internal/core"
	"cureline/internal/infra/events/nats"
	"cureline/internal/platform/config"
	"cureline/pkg/domain"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

var errUsage = errors.New("usage")

// Metrics exporters selectable with -metrics.
const (
	metricsPrometheus = "prometheus"
	metricsExpvar     = "expvar"
)

type app struct {
	cfg       config.Config
	svc       *core.Service
	out       io.Writer
	errOut    io.Writer
	logger    *slog.Logger
	actor     domain.Actor
	publisher *nats.Publisher
	registry  *prometheus.Registry
	expvarVar string
	closers   []func() error
}

type globalFlags struct {
	actorID   string
	actorName string
	metrics   string
	trace     bool
}

// Run executes one invocation and returns the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "curectl: %v\n", err)
		return ExitUsage
	}
	var g globalFlags
	fs := flag.NewFlagSet("curectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Storage.Driver, "storage", cfg.Storage.Driver, "storage driver: memory, sqlite or postgres")
	fs.StringVar(&cfg.Storage.SQLitePath, "sqlite", cfg.Storage.SQLitePath, "sqlite database path")
	fs.StringVar(&cfg.Storage.PostgresDSN, "postgres", cfg.Storage.PostgresDSN, "postgres DSN")
	fs.StringVar(&cfg.Blob.Driver, "blob", cfg.Blob.Driver, "cure record archive: fs, s3, memory or none")
	fs.StringVar(&cfg.Blob.FSRoot, "blob-root", cfg.Blob.FSRoot, "filesystem archive root")
	fs.StringVar(&cfg.NATS.URL, "nats", cfg.NATS.URL, "NATS server URL for status notifications")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	fs.StringVar(&g.actorID, "actor", "curectl", "actor id recorded on events")
	fs.StringVar(&g.actorName, "actor-name", "", "actor display name")
	fs.StringVar(&g.metrics, "metrics", "", "write metrics to stderr on exit: prometheus or expvar")
	fs.BoolVar(&g.trace, "trace", false, "write operation spans to stderr as JSON lines")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "curectl: %v\n", err)
		return ExitUsage
	}
	switch g.metrics {
	case "", metricsPrometheus, metricsExpvar:
	default:
		fmt.Fprintf(stderr, "curectl: unknown metrics exporter %q\n", g.metrics)
		return ExitUsage
	}
	rest := fs.Args()
	if len(rest) == 0 {
		usage(fs)
		return ExitUsage
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "curectl: unknown command %q\n", rest[0])
		usage(fs)
		return ExitUsage
	}

	a, err := open(ctx, cfg, g, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "curectl: %v\n", err)
		return ExitFailure
	}
	defer a.close()

	err = cmd.run(ctx, a, rest[1:])
	if g.metrics != "" {
		a.writeMetrics()
	}
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return ExitUsage
	default:
		if kind := domain.KindOf(err); kind != "" {
			fmt.Fprintf(stderr, "curectl: %s: %v\n", kind, err)
		} else {
			fmt.Fprintf(stderr, "curectl: %v\n", err)
		}
		return ExitFailure
	}
}

func open(ctx context.Context, cfg config.Config, g globalFlags, stdout, stderr io.Writer) (*app, error) {
	a := &app{
		cfg:      cfg,
		out:      stdout,
		errOut:   stderr,
		logger:   newLogger(stderr, cfg.LogLevel),
		actor:    domain.Actor{ID: g.actorID, Name: g.actorName},
		registry: prometheus.NewRegistry(),
	}

	var metrics core.MetricsRecorder
	if g.metrics == metricsExpvar {
		rec := core.NewExpvarMetricsRecorder("")
		a.expvarVar = rec.Name()
		metrics = rec
	} else {
		rec, err := core.NewPrometheusMetricsRecorder(a.registry)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		metrics = rec
	}
	opts := []core.ServiceOption{
		core.WithLogger(a.logger),
		core.WithMetricsRecorder(metrics),
		core.WithAuditRecorder(auditLogger{logger: a.logger}),
		core.WithRetryPolicy(core.RetryPolicy{Initial: cfg.Retry.Initial, Max: cfg.Retry.Max, Attempts: cfg.Retry.Attempts}),
		core.WithSessionTTL(cfg.SessionTTL),
	}
	if g.trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(stderr)))
	}

	archive, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	opts = append(opts, core.WithArchive(archive))

	if cfg.NATS.URL != "" {
		pub, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, err
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
		opts = append(opts, core.WithPublisher(pub))
	}

	store, err := core.OpenPersistentStore(cfg.Storage, core.NewDefaultRulesEngine(), nil)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.svc = core.NewService(store, opts...)
	a.closers = append(a.closers, a.svc.Close)
	a.logger.Debug("curectl ready", "storage", cfg.Storage.Driver, "blob", cfg.Blob.Driver, "nats", cfg.NATS.URL != "")
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close", "error", err)
		}
	}
	a.closers = nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) writeMetrics() {
	if a.expvarVar != "" {
		if v := expvar.Get(a.expvarVar); v != nil {
			fmt.Fprintln(a.errOut, v.String())
		}
		return
	}
	families, err := a.registry.Gather()
	if err != nil {
		a.logger.Warn("gather metrics", "error", err)
		return
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(a.errOut, mf); err != nil {
			a.logger.Warn("write metrics", "error", err)
			return
		}
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// auditLogger writes audit entries through the structured logger.
type auditLogger struct {
	logger *slog.Logger
}

func (l auditLogger) Record(ctx context.Context, e core.AuditEntry) {
	attrs := []slog.Attr{
		slog.String("operation", e.Operation),
		slog.String("entity", string(e.Entity)),
		slog.String("id", e.EntityID),
		slog.String("actor", e.Actor.ID),
		slog.String("status", string(e.Status)),
		slog.Duration("duration", e.Duration),
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

func usage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintln(w, "usage: curectl [flags] <command> [args]")
	fmt.Fprintln(w, "\ncommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w, "\nflags:")
	fs.PrintDefaults()
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
