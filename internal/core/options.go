package core

import (
	"context"
	"time"

	"cureline/pkg/domain"
)

// Logger is the structured logger used by the service. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Clock supplies the service time source.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now returns the current time.
func (f ClockFunc) Now() time.Time { return f() }

// AuditStatus captures the outcome of an audited operation.
type AuditStatus string

const (
	// AuditStatusSuccess marks a committed operation.
	AuditStatusSuccess AuditStatus = "success"
	// AuditStatusError marks a failed operation.
	AuditStatusError AuditStatus = "error"
)

// AuditEntry records who changed what through the service.
type AuditEntry struct {
	Operation string
	Entity    domain.EntityType
	Action    domain.Action
	EntityID  string
	Actor     domain.Actor
	Status    AuditStatus
	Error     string
	Duration  time.Duration
	Timestamp time.Time
}

// AuditRecorder receives audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// RetryObserver is implemented by metrics recorders that also count retries.
type RetryObserver interface {
	ObserveRetry(ctx context.Context, operation string, attempt int)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan ends a span with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

// Publisher delivers status notifications after commit.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, []byte) error { return nil }

// ServiceOption configures optional collaborators of the service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	clock      Clock
	logger     Logger
	audit      AuditRecorder
	metrics    MetricsRecorder
	tracer     Tracer
	publisher  Publisher
	archive    ArchiveStore
	retry      RetryPolicy
	optimizer  Optimizer
	sessionTTL time.Duration
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:      ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:     noopLogger{},
		audit:      noopAuditRecorder{},
		metrics:    noopMetricsRecorder{},
		tracer:     noopTracer{},
		publisher:  noopPublisher{},
		retry:      DefaultRetryPolicy(),
		optimizer:  CycleGroupingOptimizer{},
		sessionTTL: DefaultSessionTTL,
	}
}

// WithClock overrides the service time source.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger installs a structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditRecorder installs an audit sink.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.audit = recorder
		}
	}
}

// WithMetricsRecorder installs a metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithPublisher installs the status notification publisher.
func WithPublisher(publisher Publisher) ServiceOption {
	return func(o *serviceOptions) {
		if publisher != nil {
			o.publisher = publisher
		}
	}
}

// WithArchive installs the blob store receiving cure records on release.
func WithArchive(store ArchiveStore) ServiceOption {
	return func(o *serviceOptions) { o.archive = store }
}

// WithRetryPolicy overrides the conflict retry policy.
func WithRetryPolicy(policy RetryPolicy) ServiceOption {
	return func(o *serviceOptions) { o.retry = policy.normalized() }
}

// WithOptimizer installs the batch planning collaborator.
func WithOptimizer(optimizer Optimizer) ServiceOption {
	return func(o *serviceOptions) {
		if optimizer != nil {
			o.optimizer = optimizer
		}
	}
}

// WithSessionTTL sets how long optimizer sessions stay usable.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(o *serviceOptions) {
		if ttl > 0 {
			o.sessionTTL = ttl
		}
	}
}
