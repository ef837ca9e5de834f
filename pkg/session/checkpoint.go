package session

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/LevitateOS/installer/pkg/action"
	"github.com/LevitateOS/installer/pkg/stage"
)

// Checkpoint persists session progress in a local sqlite database so a
// front end can offer resume after a crash. The engine never reads it
// back itself; a fresh probe, not the checkpoint, is the source of
// truth for system state.
type Checkpoint struct {
	db *sql.DB
}

const checkpointSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id      TEXT PRIMARY KEY,
	started TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS stages (
	session_id   TEXT NOT NULL REFERENCES sessions(id),
	stage        INTEGER NOT NULL,
	completed_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, stage)
);
CREATE TABLE IF NOT EXISTS actions (
	session_id TEXT NOT NULL REFERENCES sessions(id),
	turn       INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	succeeded  INTEGER NOT NULL,
	at         TIMESTAMP NOT NULL
);
`

// OpenCheckpoint opens or creates the checkpoint database.
func OpenCheckpoint(path string) (*Checkpoint, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}
	if _, err := db.Exec(checkpointSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize checkpoint schema: %w", err)
	}
	return &Checkpoint{db: db}, nil
}

// BeginSession registers a session id.
func (c *Checkpoint) BeginSession(id string, started time.Time) error {
	_, err := c.db.Exec(`INSERT OR IGNORE INTO sessions (id, started) VALUES (?, ?)`, id, started)
	return err
}

// RecordStage marks a stage complete for the session.
func (c *Checkpoint) RecordStage(id string, s stage.Stage) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO stages (session_id, stage, completed_at) VALUES (?, ?, ?)`,
		id, int(s), time.Now().UTC())
	return err
}

// RecordAction appends one executed action.
func (c *Checkpoint) RecordAction(id string, turn int, kind action.Kind, succeeded bool) error {
	_, err := c.db.Exec(
		`INSERT INTO actions (session_id, turn, kind, succeeded, at) VALUES (?, ?, ?, ?, ?)`,
		id, turn, string(kind), succeeded, time.Now().UTC())
	return err
}

// CompletedStages returns the stages recorded complete for a session,
// in stage order.
func (c *Checkpoint) CompletedStages(id string) ([]stage.Stage, error) {
	rows, err := c.db.Query(`SELECT stage FROM stages WHERE session_id = ? ORDER BY stage`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stage.Stage
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, stage.Stage(n))
	}
	return out, rows.Err()
}

// Sessions lists known session ids, newest first.
func (c *Checkpoint) Sessions() ([]string, error) {
	rows, err := c.db.Query(`SELECT id FROM sessions ORDER BY started DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (c *Checkpoint) Close() error { return c.db.Close() }
