package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sweet-shop/api/internal/platform/requestctx"
)

func TestEventLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logEvent := EventLogger(zap.New(core))

	logEvent(context.Background(), "order.created", map[string]any{"orderId": "ord_1", "total": "19.98"})
	logEvent(context.Background(), "order.refund.failed", map[string]any{"error": errors.New("boom")})
	logEvent(context.Background(), "notification.skipped", nil)

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].ContextMap()["orderId"] != "ord_1" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[0].ContextMap()["event"] != "order.created" {
		t.Fatalf("expected event field, got %v", entries[0].ContextMap())
	}
	if entries[1].Level != zapcore.ErrorLevel {
		t.Fatalf("expected failed events at error level, got %s", entries[1].Level)
	}
	if entries[2].Level != zapcore.DebugLevel {
		t.Fatalf("expected skipped events at debug level, got %s", entries[2].Level)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	reqCore, reqLogs := observer.New(zapcore.InfoLevel)

	ctx := requestctx.WithLogger(context.Background(), zap.New(reqCore).With(zap.String("request_id", "req-9")))
	EventLogger(zap.New(baseCore))(ctx, "order.paid", nil)

	if baseLogs.Len() != 0 || reqLogs.Len() != 1 {
		t.Fatalf("expected request logger to receive the event, base=%d req=%d", baseLogs.Len(), reqLogs.Len())
	}
	if reqLogs.All()[0].ContextMap()["request_id"] != "req-9" {
		t.Fatalf("expected request fields to follow the event")
	}
}

func TestMiddlewareChainLogsAndRecovers(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	chain := InjectLoggerMiddleware(zap.New(core))(
		middleware.RequestID(
			RequestLoggerMiddleware()(
				RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
					panic("oven on fire")
				})),
			),
		),
	)

	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 || completed[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected one error-level completion line, got %+v", completed)
	}
	if completed[0].ContextMap()["request_id"] == "" {
		t.Fatalf("expected request id on completion line")
	}
}
