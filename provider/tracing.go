package provider

import (
	"context"
	"errors"

	"polychat/model"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("polychat/provider")

func startSpan(ctx context.Context, name string, vendor model.Vendor, modelName string, stream bool, toolCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", string(vendor)),
			attribute.String("llm.model", modelName),
			attribute.Bool("llm.stream", stream),
			attribute.Int("llm.tools_count", toolCount),
		),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
