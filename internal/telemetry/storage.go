package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/bueller/bueller/internal/storage"
	"github.com/bueller/bueller/internal/types"
)

const storageScopeName = "github.com/bueller/bueller/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in bueller.storage.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner  storage.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

var _ storage.Store = (*InstrumentedStore)(nil)

// WrapStore returns s decorated with OTel instrumentation.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	return wrapStore(s)
}

func wrapStore(s storage.Store) *InstrumentedStore {
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("bueller.storage.operations",
		metric.WithDescription("Total issue store operations executed"),
	)
	dur, _ := m.Float64Histogram("bueller.storage.operation.duration",
		metric.WithDescription("Issue store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("bueller.storage.errors",
		metric.WithDescription("Total issue store operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("bueller.storage.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name, trace.WithAttributes(all...))
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func issueAttrs(lifecycle types.Lifecycle, name string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("bueller.issue", name),
		attribute.String("bueller.lifecycle", string(lifecycle)),
	}
}

func (s *InstrumentedStore) Init(ctx context.Context) error {
	ctx, span, t := s.op(ctx, "Init")
	err := s.inner.Init(ctx)
	s.done(ctx, span, t, err)
	return err
}

func (s *InstrumentedStore) Discover(ctx context.Context, lifecycle types.Lifecycle) ([]string, error) {
	attrs := []attribute.KeyValue{attribute.String("bueller.lifecycle", string(lifecycle))}
	ctx, span, t := s.op(ctx, "Discover", attrs...)
	names, err := s.inner.Discover(ctx, lifecycle)
	if err == nil {
		span.SetAttributes(attribute.Int("bueller.result.count", len(names)))
	}
	s.done(ctx, span, t, err, attrs...)
	return names, err
}

func (s *InstrumentedStore) Load(ctx context.Context, lifecycle types.Lifecycle, name string) (*types.Issue, error) {
	attrs := issueAttrs(lifecycle, name)
	ctx, span, t := s.op(ctx, "Load", attrs...)
	issue, err := s.inner.Load(ctx, lifecycle, name)
	if err == nil {
		span.SetAttributes(attribute.Int("bueller.message.count", len(issue.Messages)))
	}
	s.done(ctx, span, t, err, attrs...)
	return issue, err
}

func (s *InstrumentedStore) Append(ctx context.Context, lifecycle types.Lifecycle, name string, author types.Author, content string) error {
	attrs := append(issueAttrs(lifecycle, name), attribute.String("bueller.author", string(author)))
	ctx, span, t := s.op(ctx, "Append", attrs...)
	err := s.inner.Append(ctx, lifecycle, name, author, content)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) Move(ctx context.Context, name string, from, to types.Lifecycle) error {
	attrs := []attribute.KeyValue{
		attribute.String("bueller.issue", name),
		attribute.String("bueller.from", string(from)),
		attribute.String("bueller.to", string(to)),
	}
	ctx, span, t := s.op(ctx, "Move", attrs...)
	err := s.inner.Move(ctx, name, from, to)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) Create(ctx context.Context, name, content string) error {
	attrs := issueAttrs(types.LifecycleOpen, name)
	ctx, span, t := s.op(ctx, "Create", attrs...)
	err := s.inner.Create(ctx, name, content)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) Locate(ctx context.Context, name string) (types.Lifecycle, error) {
	attrs := []attribute.KeyValue{attribute.String("bueller.issue", name)}
	ctx, span, t := s.op(ctx, "Locate", attrs...)
	l, err := s.inner.Locate(ctx, name)
	s.done(ctx, span, t, err, attrs...)
	return l, err
}

func (s *InstrumentedStore) Stat(ctx context.Context, lifecycle types.Lifecycle, name string) (storage.Entry, error) {
	attrs := issueAttrs(lifecycle, name)
	ctx, span, t := s.op(ctx, "Stat", attrs...)
	e, err := s.inner.Stat(ctx, lifecycle, name)
	s.done(ctx, span, t, err, attrs...)
	return e, err
}
