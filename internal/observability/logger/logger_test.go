package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/finledger/internal/observability/context"
	"github.com/smallbiznis/finledger/pkg/telemetry/correlation"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = correlation.ContextWithCorrelationID(ctx, "cid-1")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" {
		t.Fatalf("expected request_id req-1, got %v", fields["request_id"])
	}
	if fields["correlation_id"] != "cid-1" {
		t.Fatalf("expected correlation_id cid-1, got %v", fields["correlation_id"])
	}
	if _, ok := fields["trace_id"]; !ok {
		t.Fatalf("expected trace_id field")
	}
}

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM ledger_entries":                  "SELECT",
		"  insert into ledger_entries (date) values (?)": "INSERT",
		"WITH x AS (SELECT 1) DELETE FROM import_runs":  "SELECT",
		"":       "UNKNOWN",
		"VACUUM": "UNKNOWN",
	}
	for sql, want := range cases {
		if got := operationFromSQL(sql); got != want {
			t.Fatalf("operationFromSQL(%q) = %q, want %q", sql, got, want)
		}
	}
}
