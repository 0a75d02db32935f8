// Package logging provides the zap logger shared by the server and drivectl,
// with per-request and per-route context loggers.
package logging

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type ctxKey int

const (
	loggerKey ctxKey = iota
	requestIDKey
)

var (
	mu     sync.RWMutex
	global *zap.Logger
)

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	OutputPath string // stdout, stderr, or file path
}

// Init builds the global logger. An unknown level falls back to info.
func Init(cfg Config) error {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "ts"
	if cfg.OutputPath != "" {
		zc.OutputPaths = []string{cfg.OutputPath}
	}

	logger, err := zc.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return err
	}
	SetLogger(logger)
	return nil
}

// SetLogger replaces the global logger. Tests pass an observer core.
func SetLogger(logger *zap.Logger) {
	mu.Lock()
	global = logger
	mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() error {
	return L().Sync()
}

// L returns the global logger, creating a production logger on first use.
func L() *zap.Logger {
	mu.RLock()
	logger := global
	mu.RUnlock()
	if logger != nil {
		return logger
	}

	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global, _ = zap.NewProduction(zap.AddCallerSkip(1))
	}
	return global
}

// WithContext returns the logger stored in ctx, or the global logger.
func WithContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return L()
}

// WithRequestID stores the request id and a logger tagged with it.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	return context.WithValue(ctx, loggerKey, WithContext(ctx).With(zap.String("request_id", requestID)))
}

// WithRoute returns a logger tagged with the route key, keeping any request
// id already in ctx.
func WithRoute(ctx context.Context, route string, fields ...zap.Field) *zap.Logger {
	return WithContext(ctx).With(append([]zap.Field{zap.String("route", route)}, fields...)...)
}

// GetRequestID returns the request id from ctx.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

// Fatal logs and exits.
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Flush lets the event stream pass through the recorder.
func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware tags each request with an id (taken from RequestIDHeader or
// generated) and logs it on completion: 5xx at error, 4xx at warn, health
// checks at debug. observe, when non-nil, receives every completed request.
func Middleware(observe func(method, path string, status int, d time.Duration)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx := WithRequestID(r.Context(), requestID)
			w.Header().Set(RequestIDHeader, requestID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))
			elapsed := time.Since(start)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Int64("bytes", rec.bytes),
				zap.Duration("duration", elapsed),
			}
			logger := WithContext(ctx)
			switch {
			case rec.status >= 500:
				logger.Error("request failed", fields...)
			case rec.status >= 400:
				logger.Warn("request rejected", fields...)
			case strings.HasPrefix(r.URL.Path, "/health"):
				logger.Debug("health check", fields...)
			default:
				logger.Info("request completed", fields...)
			}
			if observe != nil {
				observe(r.Method, r.URL.Path, rec.status, elapsed)
			}
		})
	}
}
