package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"fieldline/internal/domain"
)

// SQL is the durable Store over SQLite. Each solicitation is one row; the
// append-only history rides along as a JSON column so Replace stays a single
// whole-record write.
type SQL struct {
	DB *sql.DB
}

func (s SQL) ListAll(ctx context.Context) ([]domain.Solicitation, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,submitter_id,submitter_name,photo_ref,latitude,longitude,address_json,note,created_at,current_status,history_json FROM solicitations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Solicitation
	for rows.Next() {
		sol, err := scanSolicitation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, sol)
	}
	return res, rows.Err()
}

func (s SQL) GetByID(ctx context.Context, id string) (domain.Solicitation, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id,submitter_id,submitter_name,photo_ref,latitude,longitude,address_json,note,created_at,current_status,history_json FROM solicitations WHERE id=?`, id)
	sol, err := scanSolicitation(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Solicitation{}, ErrNotFound
	}
	return sol, err
}

func (s SQL) Insert(ctx context.Context, sol domain.Solicitation) (domain.Solicitation, error) {
	var exists int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM solicitations WHERE id=?`, sol.ID).Scan(&exists)
	if err == nil {
		return domain.Solicitation{}, ErrDuplicateID
	}
	if err != sql.ErrNoRows {
		return domain.Solicitation{}, err
	}
	addressJSON, historyJSON, err := encodeColumns(sol)
	if err != nil {
		return domain.Solicitation{}, err
	}
	_, err = s.DB.ExecContext(ctx, `INSERT INTO solicitations(id,submitter_id,submitter_name,photo_ref,latitude,longitude,address_json,note,created_at,current_status,history_json)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		sol.ID, sol.SubmitterID, sol.SubmitterName, sol.PhotoRef, sol.Location.Latitude, sol.Location.Longitude,
		addressJSON, nullable(sol.Note), sol.CreatedAt, string(sol.CurrentStatus), historyJSON)
	if err != nil {
		return domain.Solicitation{}, fmt.Errorf("insert solicitation: %w", err)
	}
	return sol, nil
}

func (s SQL) Replace(ctx context.Context, sol domain.Solicitation) (domain.Solicitation, error) {
	addressJSON, historyJSON, err := encodeColumns(sol)
	if err != nil {
		return domain.Solicitation{}, err
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE solicitations SET submitter_id=?, submitter_name=?, photo_ref=?, latitude=?, longitude=?, address_json=?, note=?, created_at=?, current_status=?, history_json=? WHERE id=?`,
		sol.SubmitterID, sol.SubmitterName, sol.PhotoRef, sol.Location.Latitude, sol.Location.Longitude,
		addressJSON, nullable(sol.Note), sol.CreatedAt, string(sol.CurrentStatus), historyJSON, sol.ID)
	if err != nil {
		return domain.Solicitation{}, fmt.Errorf("replace solicitation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Solicitation{}, ErrNotFound
	}
	return sol, nil
}

func encodeColumns(sol domain.Solicitation) (addressJSON any, historyJSON string, err error) {
	if sol.Address != nil {
		b, err := json.Marshal(sol.Address)
		if err != nil {
			return nil, "", fmt.Errorf("marshal address: %w", err)
		}
		addressJSON = string(b)
	}
	h, err := json.Marshal(sol.History)
	if err != nil {
		return nil, "", fmt.Errorf("marshal history: %w", err)
	}
	return addressJSON, string(h), nil
}

func scanSolicitation(scan func(dest ...any) error) (domain.Solicitation, error) {
	var sol domain.Solicitation
	var addressJSON, note sql.NullString
	var status, historyJSON string
	err := scan(&sol.ID, &sol.SubmitterID, &sol.SubmitterName, &sol.PhotoRef,
		&sol.Location.Latitude, &sol.Location.Longitude, &addressJSON, &note,
		&sol.CreatedAt, &status, &historyJSON)
	if err != nil {
		return sol, err
	}
	sol.CurrentStatus = domain.Status(status)
	if note.Valid {
		sol.Note = note.String
	}
	if addressJSON.Valid {
		var addr domain.Address
		if err := json.Unmarshal([]byte(addressJSON.String), &addr); err != nil {
			return sol, fmt.Errorf("decode address: %w", err)
		}
		sol.Address = &addr
	}
	if err := json.Unmarshal([]byte(historyJSON), &sol.History); err != nil {
		return sol, fmt.Errorf("decode history: %w", err)
	}
	return sol, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
