package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMiddlewareRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(zap.NewNop()) })

	var seenID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		WithContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusTeapot)
	})

	var observed struct {
		method, path string
		status       int
	}
	mw := Middleware(func(method, path string, status int, _ time.Duration) {
		observed.method, observed.path, observed.status = method, path, status
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/routes", nil)
	req.Header.Set("X-Request-ID", "req-123")
	mw(handler).ServeHTTP(rec, req)

	assert.Equal(t, "req-123", seenID)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, http.StatusTeapot, observed.status)
	assert.Equal(t, "/api/v1/routes", observed.path)

	inside := logs.FilterMessage("inside handler").All()
	require.Len(t, inside, 1)
	assert.Equal(t, "req-123", inside[0].ContextMap()["request_id"])

	rejected := logs.FilterMessage("request rejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, zapcore.WarnLevel, rejected[0].Level)
	assert.Equal(t, int64(http.StatusTeapot), rejected[0].ContextMap()["status"])
}

func TestMiddlewareLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(zap.NewNop()) })

	serve := func(path string, status int) {
		Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	serve("/health", http.StatusOK)
	serve("/api/v1/hierarchy/marketing", http.StatusOK)
	serve("/api/v1/admin/sync/marketing", http.StatusServiceUnavailable)

	require.Equal(t, 3, logs.Len())
	entries := logs.All()
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "request completed", entries[1].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestWithRouteKeepsRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(zap.NewNop()) })

	ctx := WithRequestID(context.Background(), "req-9")
	WithRoute(ctx, "/marketing", zap.String("mode", "silent")).Info("sync completed")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "/marketing", fields["route"])
	assert.Equal(t, "silent", fields["mode"])
}

func TestMiddlewareGeneratesRequestID(t *testing.T) {
	SetLogger(zap.NewNop())
	rec := httptest.NewRecorder()
	Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestWithContextFallsBackToGlobal(t *testing.T) {
	SetLogger(zap.NewNop())
	assert.NotNil(t, WithContext(context.Background()))
	assert.Empty(t, GetRequestID(context.Background()))
}
