package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"strategy-lab/internal/domain"
	"strategy-lab/internal/storage"
)

// ActivityStore implements storage.ActivityStore using ClickHouse.
type ActivityStore struct {
	conn *Conn
}

// NewActivityStore creates a new ActivityStore.
func NewActivityStore(conn *Conn) *ActivityStore {
	return &ActivityStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ActivityStore = (*ActivityStore)(nil)

// Append adds an event.
func (s *ActivityStore) Append(ctx context.Context, e *domain.ActivityEvent) error {
	if e == nil || e.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO activity_events (
			id, trace_id, kind, entity_id, message, attributes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	attrs := e.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}

	err := s.conn.Exec(ctx, query,
		e.ID, e.TraceID, string(e.Kind), e.EntityID, e.Message, attrs, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity event: %w", err)
	}
	return nil
}

// AppendBulk adds multiple events in one batch.
func (s *ActivityStore) AppendBulk(ctx context.Context, events []*domain.ActivityEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO activity_events (
			id, trace_id, kind, entity_id, message, attributes, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		attrs := e.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		if err := batch.Append(e.ID, e.TraceID, string(e.Kind), e.EntityID, e.Message, attrs, e.CreatedAt); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByTrace retrieves events with a trace id, ordered by created_at ASC.
func (s *ActivityStore) GetByTrace(ctx context.Context, traceID string) ([]*domain.ActivityEvent, error) {
	query := `
		SELECT id, trace_id, kind, entity_id, message, attributes, created_at
		FROM activity_events
		WHERE trace_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.conn.Query(ctx, query, traceID)
	if err != nil {
		return nil, fmt.Errorf("query by trace id: %w", err)
	}
	defer rows.Close()

	return scanActivityEvents(rows)
}

// GetByEntity retrieves events for an entity, ordered by created_at ASC.
func (s *ActivityStore) GetByEntity(ctx context.Context, entityID string) ([]*domain.ActivityEvent, error) {
	query := `
		SELECT id, trace_id, kind, entity_id, message, attributes, created_at
		FROM activity_events
		WHERE entity_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.conn.Query(ctx, query, entityID)
	if err != nil {
		return nil, fmt.Errorf("query by entity id: %w", err)
	}
	defer rows.Close()

	return scanActivityEvents(rows)
}

// scanActivityEvents scans multiple rows.
func scanActivityEvents(rows driver.Rows) ([]*domain.ActivityEvent, error) {
	var events []*domain.ActivityEvent

	for rows.Next() {
		var e domain.ActivityEvent
		var kind string
		if err := rows.Scan(&e.ID, &e.TraceID, &kind, &e.EntityID, &e.Message, &e.Attributes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity event: %w", err)
		}
		e.Kind = domain.ActivityKind(kind)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return events, nil
}
