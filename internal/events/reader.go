package events

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"fieldline/internal/domain"
)

// Reader queries the SQL events table.
type Reader struct {
	DB *sql.DB
}

// Latest returns the most recent events, newest first, optionally filtered by
// type and solicitation id.
func (r Reader) Latest(ctx context.Context, limit int, evtType, solicitationID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if solicitationID != "" {
		clauses = append(clauses, "solicitation_id=?")
		args = append(args, solicitationID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,solicitation_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.query(ctx, query, args...)
}

// After returns events with IDs greater than the cursor in ascending order.
func (r Reader) After(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, `SELECT id,ts,type,solicitation_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestID returns the most recent event ID, 0 when the log is empty.
func (r Reader) LatestID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Reader) query(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var solicitationID sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &solicitationID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		if solicitationID.Valid {
			e.SolicitationID = solicitationID.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
