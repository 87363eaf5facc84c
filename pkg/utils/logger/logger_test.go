package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"botarena/pkg/utils/contextkey"
)

func TestWithContextCarriesRequestMetadata(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.InfoLevel)
	l := &Logger{zap: zap.New(core)}

	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	ctx = context.WithValue(ctx, contextkey.RequestID, "req-2")
	l.WithContext(ctx).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["trace_id"] != "trace-1" {
		t.Fatalf("trace id not extracted: %v", fields)
	}
	if fields["request_id"] != "req-2" {
		t.Fatalf("request id not extracted: %v", fields)
	}
	if _, ok := fields["user_id"]; ok {
		t.Fatalf("user id must not appear when absent from the context: %v", fields)
	}
}

func TestWithContextEmptyContext(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.InfoLevel)
	l := &Logger{zap: zap.New(core)}

	l.WithContext(context.Background()).Info("bare")

	if fields := logs.All()[0].ContextMap(); len(fields) != 0 {
		t.Fatalf("expected no fields, got %v", fields)
	}
}
