package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type EventPayload map[string]any

// Log records audit events. The engine appends one event per state change;
// the event log is supplementary to the solicitation history, not a
// replacement for it.
type Log interface {
	Append(ctx context.Context, evtType, solicitationID, actorID string, payload EventPayload) error
}

// Writer appends events to the SQL events table.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, evtType, solicitationID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO events(ts,type,solicitation_id,actor_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, evtType, nullable(solicitationID), actorID, string(data))
	return err
}

// Discard drops every event. Used with the in-memory store.
type Discard struct{}

func (Discard) Append(ctx context.Context, evtType, solicitationID, actorID string, payload EventPayload) error {
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
