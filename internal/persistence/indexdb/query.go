package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// Reader runs admin queries against an index file. It may be opened while a
// server is writing to the same file.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

type ActionRow struct {
	ID      int64           `json:"id"`
	RunID   string          `json:"run_id"`
	Seq     int64           `json:"seq"`
	At      string          `json:"at"`
	WorldID string          `json:"world_id"`
	Action  string          `json:"action"`
	OK      bool            `json:"ok"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type EventRow struct {
	ID       int64           `json:"id"`
	ActionID int64           `json:"action_id"`
	At       string          `json:"at"`
	WorldID  string          `json:"world_id"`
	Name     string          `json:"name"`
	Data     json.RawMessage `json:"data"`
}

type ActionQuery struct {
	Limit  int
	Action string
	// Failed keeps only hard errors.
	Failed bool
}

type EventQuery struct {
	Limit int
	Name  string
}

type CatalogRow struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	UpdatedAt string `json:"updated_at"`
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 50
	case n > 1000:
		return 1000
	}
	return n
}

// Actions returns the newest matching actions first.
func (r *Reader) Actions(ctx context.Context, q ActionQuery) ([]ActionRow, error) {
	var (
		where []string
		args  []any
	)
	if q.Action != "" {
		where = append(where, "action = ?")
		args = append(args, q.Action)
	}
	if q.Failed {
		where = append(where, "code <> ''")
	}
	query := `SELECT id, run_id, seq, at, world_id, action, ok, code, error, payload_json FROM actions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, clampLimit(q.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []ActionRow
	for rows.Next() {
		var (
			a       ActionRow
			ok      int
			payload sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.RunID, &a.Seq, &a.At, &a.WorldID, &a.Action, &ok, &a.Code, &a.Error, &payload); err != nil {
			return nil, err
		}
		a.OK = ok != 0
		if payload.Valid {
			a.Payload = json.RawMessage(payload.String)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Events returns the newest matching domain events first.
func (r *Reader) Events(ctx context.Context, q EventQuery) ([]EventRow, error) {
	query := `SELECT id, action_id, at, world_id, name, data_json FROM events`
	var args []any
	if q.Name != "" {
		query += " WHERE name = ?"
		args = append(args, q.Name)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, clampLimit(q.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var (
			e    EventRow
			data string
		)
		if err := rows.Scan(&e.ID, &e.ActionID, &e.At, &e.WorldID, &e.Name, &data); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Catalogs lists the stored tuning and template digests.
func (r *Reader) Catalogs(ctx context.Context) ([]CatalogRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, digest, updated_at FROM catalogs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query catalogs: %w", err)
	}
	defer rows.Close()
	var out []CatalogRow
	for rows.Next() {
		var c CatalogRow
		if err := rows.Scan(&c.Name, &c.Digest, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
