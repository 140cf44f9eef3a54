package otel

import (
	"context"
	"sync"

	eventbus "github.com/qadapt/qadapt/internal/eventbus"
	events "github.com/qadapt/qadapt/internal/events"
	execid "github.com/qadapt/qadapt/internal/execid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("qadapt")}
	sub.register()

	return tp.Shutdown, nil
}

type subscriber struct {
	tracer    trace.Tracer
	execSpans sync.Map // exec id -> trace.Span
	gradSpans sync.Map // exec id -> trace.Span
	taskSpans sync.Map // exec id + task index -> trace.Span
}

type taskKey struct {
	exec  string
	index int
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.ExecuteStart) {
		eid, _ := execid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "device.execute")
		span.SetAttributes(
			attribute.String("quantum.backend", e.Backend),
			attribute.Int("quantum.shots", e.Shots),
			attribute.Int("quantum.operations", e.Operations),
			attribute.Int("quantum.measurements", e.Measurements),
		)
		s.execSpans.Store(eid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.ExecuteFinish) {
		eid, _ := execid.FromContext(ctx)
		v, ok := s.execSpans.LoadAndDelete(eid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.GradientStart) {
		eid, _ := execid.FromContext(ctx)
		parent := ctx
		if v, ok := s.execSpans.Load(eid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "device.gradient")
		span.SetAttributes(
			attribute.Int("quantum.gradient.parameters", e.Parameters),
			attribute.Int("quantum.gradient.circuits", e.Circuits),
		)
		s.gradSpans.Store(eid, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.GradientFinish) {
		eid, _ := execid.FromContext(ctx)
		v, ok := s.gradSpans.LoadAndDelete(eid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Int("quantum.gradient.failed", e.Failed))
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.TaskSubmit) {
		eid, _ := execid.FromContext(ctx)
		parent := ctx
		if v, ok := s.gradSpans.Load(eid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		} else if v, ok := s.execSpans.Load(eid); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "task.run")
		span.SetAttributes(
			attribute.String("quantum.backend", e.Backend),
			attribute.Int("quantum.task.index", e.Index),
			attribute.Int("quantum.shots", e.Shots),
		)
		s.taskSpans.Store(taskKey{eid, e.Index}, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.TaskSubmitted) {
		eid, _ := execid.FromContext(ctx)
		if v, ok := s.taskSpans.Load(taskKey{eid, e.Index}); ok {
			v.(trace.Span).SetAttributes(attribute.String("quantum.task.id", e.TaskID))
		}
	})

	eventbus.Subscribe(func(ctx context.Context, e events.TaskFinish) {
		eid, _ := execid.FromContext(ctx)
		v, ok := s.taskSpans.LoadAndDelete(taskKey{eid, e.Index})
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.String("quantum.task.status", e.Status))
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})
}
