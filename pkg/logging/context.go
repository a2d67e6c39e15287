package logging

import (
	"context"
)

const (
	TraceIDKey     = "trace_id"
	ChargeIDKey    = "charge_id"
	ServiceNameKey = "service_name"
)

type contextKey string

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, contextKey(TraceIDKey), traceID)
}

func WithChargeID(ctx context.Context, chargeID string) context.Context {
	return context.WithValue(ctx, contextKey(ChargeIDKey), chargeID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, contextKey(ServiceNameKey), serviceName)
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

func GetChargeID(ctx context.Context) string {
	return stringValue(ctx, ChargeIDKey)
}

func GetServiceName(ctx context.Context) string {
	return stringValue(ctx, ServiceNameKey)
}

func stringValue(ctx context.Context, key string) string {
	if v, ok := ctx.Value(contextKey(key)).(string); ok {
		return v
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 6)

	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, TraceIDKey, traceID)
	}

	if chargeID := GetChargeID(ctx); chargeID != "" {
		fields = append(fields, ChargeIDKey, chargeID)
	}

	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, ServiceNameKey, serviceName)
	}

	return fields
}
