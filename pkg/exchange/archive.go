package exchange

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Archive persists completed sessions to SQLite so a transcript survives an
// explicit session reset. Writes happen only at reset/close; the live log
// stays in memory.
type Archive struct {
	db *sql.DB
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	image_label TEXT,
	started_at REAL NOT NULL,
	archived_at REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS exchanges (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	role TEXT NOT NULL,
	text TEXT NOT NULL,
	seq INTEGER NOT NULL,
	created_at REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_session ON exchanges(session_id, seq);
`

// OpenArchive opens (or creates) the archive database at path.
func OpenArchive(path string) (*Archive, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// SaveSession writes one completed session and its records in a single
// transaction. Empty sessions are skipped.
func (a *Archive) SaveSession(sessionID, imageLabel string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := unixFloat(time.Now())
	if _, err := tx.Exec(`
		INSERT INTO sessions (id, image_label, started_at, archived_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, imageLabel, unixFloat(records[0].CreatedAt), now); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO exchanges (id, session_id, role, text, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare exchange: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(rec.ID.String(), sessionID, string(rec.Role), rec.Text, rec.Seq, unixFloat(rec.CreatedAt)); err != nil {
			return fmt.Errorf("insert exchange: %w", err)
		}
	}
	return tx.Commit()
}

// SessionRecords returns the archived records for a session in seq order.
func (a *Archive) SessionRecords(sessionID string) ([]Record, error) {
	rows, err := a.db.Query(`
		SELECT id, role, text, seq, created_at
		FROM exchanges
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var id string
		var role string
		var createdAt float64
		if err := rows.Scan(&id, &role, &rec.Text, &rec.Seq, &createdAt); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		if parsed, err := uuid.Parse(id); err == nil {
			rec.ID = parsed
		}
		rec.Role = Role(role)
		rec.CreatedAt = timeFromUnix(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Sessions returns archived session ids, most recent first.
func (a *Archive) Sessions() ([]string, error) {
	rows, err := a.db.Query(`SELECT id FROM sessions ORDER BY archived_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func timeFromUnix(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second)))
}
