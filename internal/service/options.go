package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/and161185/epoch-ledger/internal/audit"
	"github.com/and161185/epoch-ledger/internal/entitlement"
	"github.com/and161185/epoch-ledger/internal/metrics"
)

var tracer = otel.Tracer("github.com/and161185/epoch-ledger/internal/service")

// options are the collaborators shared by all services. Every field has a
// usable zero value.
type options struct {
	audit       audit.Sink
	metrics     *metrics.Metrics
	now         func() time.Time
	entitlement entitlement.Checker
	log         *zap.Logger
}

// Option configures a service.
type Option func(*options)

// WithAudit sets the audit sink.
func WithAudit(s audit.Sink) Option { return func(o *options) { o.audit = s } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithEntitlement sets the checker consulted before grants start and cross reads run.
func WithEntitlement(c entitlement.Checker) Option { return func(o *options) { o.entitlement = c } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.log = l } }

func buildOptions(opts []Option) options {
	o := options{
		audit: audit.Nop{},
		now:   time.Now,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func (o options) clock() time.Time { return o.now().UTC() }

// startSpan opens a span and returns a finisher that records err on it.
func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
