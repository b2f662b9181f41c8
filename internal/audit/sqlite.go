package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS security_events (
id INTEGER PRIMARY KEY AUTOINCREMENT,
request_id TEXT NOT NULL,
occurred_at TIMESTAMP NOT NULL,
modality TEXT NOT NULL,
stage TEXT NOT NULL,
outcome TEXT NOT NULL,
actor_kind TEXT,
actor_id TEXT,
flags TEXT,
detail TEXT
)`

// SQLiteRecorder persists events to a SQLite database so blocked prompts
// and limiter denials survive restarts and can be queried for support.
type SQLiteRecorder struct {
	db *sqlx.DB
}

// NewSQLiteRecorder opens (creating if needed) the database at path.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize audit schema: %w", err)
	}
	return &SQLiteRecorder{db: db}, nil
}

func (r *SQLiteRecorder) Record(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	flags, err := json.Marshal(ev.Flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO security_events
		 (request_id, occurred_at, modality, stage, outcome, actor_kind, actor_id, flags, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RequestID, ev.Time, ev.Modality, ev.Stage, string(ev.Outcome),
		ev.ActorKind, ev.ActorID, string(flags), ev.Detail)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

func (r *SQLiteRecorder) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx,
		`SELECT request_id, occurred_at, modality, stage, outcome, actor_kind, actor_id, flags, detail
		 FROM security_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var flags string
		if err := rows.Scan(&ev.RequestID, &ev.Time, &ev.Modality, &ev.Stage,
			&ev.Outcome, &ev.ActorKind, &ev.ActorID, &flags, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		if flags != "" && flags != "null" {
			if err := json.Unmarshal([]byte(flags), &ev.Flags); err != nil {
				return nil, fmt.Errorf("unmarshal flags: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
