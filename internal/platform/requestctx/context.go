// Package requestctx carries per-request logging and tracing state without import cycles between
// observability, httpx and handlers.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	traceKey  struct{}
)

var noopLogger = zap.NewNop()

// TraceInfo is the W3C trace context of the current request.
type TraceInfo struct {
	TraceID string
	SpanID  string
	Sampled bool
}

// WithLogger stores logger on ctx. A nil logger stores the no-op logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the request logger, or a no-op logger outside a request.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
			return logger
		}
	}
	return noopLogger
}

// NoopLogger is the logger Logger falls back to; callers compare against it to detect a missing
// request logger.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(ctx, traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID returns the trace id of the request, or "" when tracing did not run.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// Fields returns the trace fields to attach to log entries written for the request.
func Fields(ctx context.Context) []zap.Field {
	info, ok := Trace(ctx)
	if !ok || info.TraceID == "" {
		return nil
	}
	return []zap.Field{
		zap.String("traceId", info.TraceID),
		zap.String("spanId", info.SpanID),
		zap.Bool("traceSampled", info.Sampled),
	}
}

type annotationsKey struct{}

// Annotations collects log fields discovered while a request is being served, after the access
// log middleware already ran: the authenticated user, the order being edited. It is not safe for
// concurrent use; a request is annotated from its own goroutine.
type Annotations struct {
	fields []zap.Field
}

// WithAnnotations attaches an empty annotation set to ctx.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	a := &Annotations{}
	return context.WithValue(ctx, annotationsKey{}, a), a
}

// Annotate appends fields to the request annotations. Without WithAnnotations it does nothing.
func Annotate(ctx context.Context, fields ...zap.Field) {
	if a, ok := ctx.Value(annotationsKey{}).(*Annotations); ok {
		a.fields = append(a.fields, fields...)
	}
}

// Fields returns the collected fields.
func (a *Annotations) Fields() []zap.Field {
	if a == nil {
		return nil
	}
	return a.fields
}
