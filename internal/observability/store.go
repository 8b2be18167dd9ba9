package observability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/ports"
)

const instrumentationName = "ArticlesPipeline/internal/observability"

var _ ports.DocumentStore = (*InstrumentedStore)(nil)

// StoreDeps configures NewInstrumentedStore. Tracer and Meter default to the global providers.
type StoreDeps struct {
	Next    ports.DocumentStore
	Backend string
	Logger  *slog.Logger
	Tracer  trace.Tracer
	Meter   metric.Meter
}

// InstrumentedStore records a span, counters and latency around every remote call.
type InstrumentedStore struct {
	next     ports.DocumentStore
	backend  string
	logger   *slog.Logger
	tracer   trace.Tracer
	ops      metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewInstrumentedStore decorates deps.Next.
func NewInstrumentedStore(deps StoreDeps) *InstrumentedStore {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	s := &InstrumentedStore{
		next:    deps.Next,
		backend: deps.Backend,
		logger:  logger.With("component", "store"),
		tracer:  tracer,
	}

	var err error
	if s.ops, err = meter.Int64Counter("store.operations",
		metric.WithDescription("Remote store calls")); err != nil {
		s.logger.Warn("create operations counter", "error", err)
	}
	if s.failures, err = meter.Int64Counter("store.errors",
		metric.WithDescription("Remote store calls that failed, not-found excluded")); err != nil {
		s.logger.Warn("create errors counter", "error", err)
	}
	if s.latency, err = meter.Float64Histogram("store.duration",
		metric.WithDescription("Remote store call latency"), metric.WithUnit("ms")); err != nil {
		s.logger.Warn("create latency histogram", "error", err)
	}
	return s
}

// Get reads one document.
func (s *InstrumentedStore) Get(ctx context.Context, collection, id string) (doc []byte, err error) {
	ctx, done := s.start(ctx, "get", collection, id)
	defer func() { done(err) }()
	return s.next.Get(ctx, collection, id)
}

// Set writes one document.
func (s *InstrumentedStore) Set(ctx context.Context, collection, id string, doc []byte) (err error) {
	ctx, done := s.start(ctx, "set", collection, id)
	defer func() { done(err) }()
	return s.next.Set(ctx, collection, id, doc)
}

// Update patches one document.
func (s *InstrumentedStore) Update(ctx context.Context, collection, id string, fields map[string]any) (err error) {
	ctx, done := s.start(ctx, "update", collection, id)
	defer func() { done(err) }()
	return s.next.Update(ctx, collection, id, fields)
}

// Delete removes one document.
func (s *InstrumentedStore) Delete(ctx context.Context, collection, id string) (err error) {
	ctx, done := s.start(ctx, "delete", collection, id)
	defer func() { done(err) }()
	return s.next.Delete(ctx, collection, id)
}

// Query runs a filtered scan.
func (s *InstrumentedStore) Query(ctx context.Context, collection string, filters ...ports.Filter) (docs [][]byte, err error) {
	ctx, done := s.start(ctx, "query", collection, "")
	defer func() {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int("store.results", len(docs)))
		done(err)
	}()
	return s.next.Query(ctx, collection, filters...)
}

func (s *InstrumentedStore) start(ctx context.Context, op, collection, id string) (context.Context, func(error)) {
	attrs := []attribute.KeyValue{
		attribute.String("store.op", op),
		attribute.String("store.collection", collection),
		attribute.String("store.backend", s.backend),
	}
	ctx, span := s.tracer.Start(ctx, "store."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	if id != "" {
		span.SetAttributes(attribute.String("store.id", id))
	}
	started := time.Now()

	return ctx, func(err error) {
		elapsed := time.Since(started)
		set := metric.WithAttributes(attrs...)
		if s.ops != nil {
			s.ops.Add(ctx, 1, set)
		}
		if s.latency != nil {
			s.latency.Record(ctx, float64(elapsed.Microseconds())/1000, set)
		}

		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(err, domain.ErrNotFound):
			span.SetAttributes(attribute.Bool("store.not_found", true))
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if s.failures != nil {
				s.failures.Add(ctx, 1, set)
			}
			s.logger.Warn("store call failed", "op", op, "collection", collection, "id", id, "error", err)
		}
		s.logger.Debug("store call", "op", op, "collection", collection, "id", id, "duration", elapsed)
		span.End()
	}
}
