package context

import (
	"context"

	"github.com/google/uuid"
)

// TraceContext correlates log lines of one request or background job.
type TraceContext struct {
	TraceID   string
	RequestID string
	// Job names the background loop for contexts not created by a request.
	Job string
}

type traceContextKey struct{}

// WithTrace stores trace in ctx.
func WithTrace(ctx context.Context, trace *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// GetTrace returns the TraceContext of ctx or nil.
func GetTrace(ctx context.Context) *TraceContext {
	t, _ := ctx.Value(traceContextKey{}).(*TraceContext)
	return t
}

// GetRequestID returns the request ID of ctx or "".
func GetRequestID(ctx context.Context) string {
	if t := GetTrace(ctx); t != nil {
		return t.RequestID
	}
	return ""
}

// NewJobTrace creates a TraceContext for one iteration of a background job.
func NewJobTrace(job string) *TraceContext {
	traceID := uuid.NewString()
	return &TraceContext{TraceID: traceID, RequestID: traceID, Job: job}
}
