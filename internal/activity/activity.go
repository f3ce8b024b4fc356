// Package activity writes the structured audit trail. Every event carries the
// trace id of the cycle or request that produced it.
package activity

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"strategy-lab/internal/clock"
	"strategy-lab/internal/domain"
	"strategy-lab/internal/idhash"
	"strategy-lab/internal/storage"
)

type traceKey struct{}

// WithTraceID returns a context carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID returns the trace id carried by ctx, or a fresh one.
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceKey{}).(string); ok && id != "" {
		return id
	}
	return idhash.NewTraceID()
}

// Options configures a Recorder.
type Options struct {
	Store  storage.ActivityStore
	Logger *zap.Logger
	Clock  clock.Clock
}

// Recorder logs and persists audit events. Persistence failures are logged
// and never propagate into the decision path.
type Recorder struct {
	store  storage.ActivityStore
	logger *zap.Logger
	clock  clock.Clock
}

// NewRecorder creates a Recorder.
func NewRecorder(opts Options) *Recorder {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Recorder{
		store:  opts.Store,
		logger: logger.Named("activity"),
		clock:  clk,
	}
}

// Record writes one event and returns it.
func (r *Recorder) Record(ctx context.Context, kind domain.ActivityKind, entityID, message string, attrs map[string]string) *domain.ActivityEvent {
	e := &domain.ActivityEvent{
		ID:         idhash.NewID(),
		TraceID:    TraceID(ctx),
		Kind:       kind,
		EntityID:   entityID,
		Message:    message,
		Attributes: attrs,
		CreatedAt:  r.clock.Now().UnixMilli(),
	}

	fields := []zap.Field{
		zap.String("trace_id", e.TraceID),
		zap.String("kind", string(kind)),
		zap.String("entity_id", entityID),
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.String(k, attrs[k]))
	}
	r.logger.Info(message, fields...)

	if r.store != nil {
		if err := r.store.Append(ctx, e); err != nil {
			r.logger.Warn("append activity event failed", zap.String("trace_id", e.TraceID), zap.Error(err))
		}
	}
	return e
}
