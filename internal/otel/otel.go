package otel

import (
	"context"
	"sync"

	eventbus "github.com/brandonmp/relay/internal/eventbus"
	events "github.com/brandonmp/relay/internal/events"
	opid "github.com/brandonmp/relay/internal/opid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
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

	sub := &subscriber{tracer: otel.Tracer("relay")}
	sub.register()

	return tp.Shutdown, nil
}

type subscriber struct {
	tracer     trace.Tracer
	opSpans    sync.Map // opid -> trace.Span
	fetchSpans sync.Map // opid -> trace.Span
	subSpans   sync.Map // subscription id -> trace.Span
}

func (s *subscriber) register() {
	eventbus.Subscribe(func(ctx context.Context, e events.OperationStart) {
		id, _ := opid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "graphql.operation")
		span.SetAttributes(
			attribute.String("graphql.operation.name", e.Name),
			attribute.String("graphql.operation.type", e.Kind),
		)
		s.opSpans.Store(id, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.OperationFinish) {
		id, _ := opid.FromContext(ctx)
		v, ok := s.opSpans.LoadAndDelete(id)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Bool("relay.suppressed", e.Suppressed))
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.FetchStart) {
		id, _ := opid.FromContext(ctx)
		parent := ctx
		if v, ok := s.opSpans.Load(id); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "relay.fetch")
		span.SetAttributes(
			semconv.HTTPURLKey.String(e.URL),
			attribute.String("graphql.operation.name", e.OperationName),
		)
		s.fetchSpans.Store(id, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.FetchFinish) {
		id, _ := opid.FromContext(ctx)
		v, ok := s.fetchSpans.LoadAndDelete(id)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})

	eventbus.Subscribe(func(ctx context.Context, e events.SubscribeStart) {
		_, span := s.tracer.Start(ctx, "relay.subscription")
		span.SetAttributes(
			attribute.String("relay.subscription.id", e.ID),
			attribute.String("graphql.operation.name", e.OperationName),
		)
		s.subSpans.Store(e.ID, span)
	})

	eventbus.Subscribe(func(ctx context.Context, e events.SubscribeFinish) {
		v, ok := s.subSpans.LoadAndDelete(e.ID)
		if !ok {
			return
		}
		span := v.(trace.Span)
		if e.Err != nil {
			span.RecordError(e.Err)
		}
		span.End()
	})
}
