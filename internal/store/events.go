package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/KankareDEV/lms-v4/internal/model"
)

// Event types written to the event log.
const (
	EventAttemptCreated = "attempt.created"
	EventAttemptWritten = "attempt.written"
	EventGradeCreated   = "grade.created"
)

// Event is one row of the event log. Events are appended in the same
// transaction as the write they describe.
type Event struct {
	Seq        int64           `json:"seq"`
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
	Deliveries int             `json:"deliveries"`
}

// AttemptChange is the payload of attempt events. Before is nil for a
// newly created attempt.
type AttemptChange struct {
	Before *model.Attempt `json:"before"`
	After  model.Attempt  `json:"after"`
}

// SetEventHook registers the function that receives events after their
// transaction commits. The hook must not block.
func (s *Store) SetEventHook(fn func(Event)) {
	s.mu.Lock()
	s.hook = fn
	s.mu.Unlock()
}

func (s *Store) fire(events []Event) {
	if len(events) == 0 {
		return
	}
	s.mu.RLock()
	hook := s.hook
	s.mu.RUnlock()
	if hook == nil {
		return
	}
	for _, e := range events {
		hook(e)
	}
}

func (s *Store) appendEvent(ctx context.Context, tx *sql.Tx, typ, key string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s event: %w", typ, err)
	}
	e := Event{Type: typ, Key: key, Data: raw, CreatedAt: s.now().UTC()}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO event_log (typ, key, data, created_at) VALUES ($1, $2, $3, $4) RETURNING seq`,
		typ, key, string(raw), s.millis(e.CreatedAt),
	).Scan(&e.Seq)
	if err != nil {
		return Event{}, fmt.Errorf("append %s event: %w", typ, err)
	}
	return e, nil
}

// PendingEvents returns up to limit unacknowledged events created before
// olderThan, oldest first. Each returned event has its delivery counter
// incremented.
func (s *Store) PendingEvents(ctx context.Context, olderThan time.Time, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, typ, key, data, created_at, deliveries FROM event_log
		 WHERE done = 0 AND created_at <= $1 ORDER BY seq LIMIT $2`,
		s.millis(olderThan), limit,
	)
	if err != nil {
		return nil, err
	}
	var events []Event
	for rows.Next() {
		var (
			e       Event
			data    string
			created int64
		)
		if err := rows.Scan(&e.Seq, &e.Type, &e.Key, &data, &created, &e.Deliveries); err != nil {
			rows.Close()
			return nil, err
		}
		e.Data = json.RawMessage(data)
		e.CreatedAt = fromMillis(created)
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range events {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE event_log SET deliveries = deliveries + 1 WHERE seq = $1`, events[i].Seq,
		); err != nil {
			return nil, err
		}
		events[i].Deliveries++
	}
	return events, nil
}

// AckEvent marks an event as handled by all subscribers.
func (s *Store) AckEvent(ctx context.Context, seq int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE event_log SET done = 1 WHERE seq = $1`, seq)
	return err
}

// PruneEvents deletes acknowledged events created before cutoff and
// returns how many were removed.
func (s *Store) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM event_log WHERE done = 1 AND created_at < $1`, s.millis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
