package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"github.com/user/meetscribe/internal/transcript"
)

const schema = `
CREATE TABLE IF NOT EXISTS utterances (
	session_id TEXT NOT NULL,
	segment_id INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	ts_start   TEXT NOT NULL,
	ts_end     TEXT,
	speaker    TEXT,
	text       TEXT,
	confidence REAL,
	degraded   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, segment_id, kind, ts_start)
);
CREATE TABLE IF NOT EXISTS notes (
	session_id TEXT PRIMARY KEY,
	notes      TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

// SQLiteStore archives transcripts into a local SQLite database so finished
// sessions can be queried without parsing JSONL files.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveTranscript(ctx context.Context, snap transcript.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO utterances
		(session_id, segment_id, kind, ts_start, ts_end, speaker, text, confidence, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, entry := range snap.Entries {
		if entry.Kind == transcript.KindGap {
			if _, err := stmt.ExecContext(ctx, snap.SessionID, 0, string(entry.Kind),
				entry.At.Format(time.RFC3339Nano), nil, nil, nil, nil, 0); err != nil {
				return fmt.Errorf("failed to insert gap marker: %w", err)
			}
			continue
		}
		u := entry.Utterance
		degraded := 0
		if u.Degraded {
			degraded = 1
		}
		if _, err := stmt.ExecContext(ctx, snap.SessionID, u.SegmentID, string(entry.Kind),
			u.Start.Format(time.RFC3339Nano), u.End.Format(time.RFC3339Nano),
			u.Speaker, u.Text, u.Confidence, degraded); err != nil {
			return fmt.Errorf("failed to insert utterance %d: %w", u.SegmentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transcript: %w", err)
	}

	log.Info().
		Str("session_id", snap.SessionID).
		Int("entries", len(snap.Entries)).
		Msg("Archived transcript to sqlite")

	return nil
}

func (s *SQLiteStore) SaveNotes(ctx context.Context, sessionID, notes string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO notes (session_id, notes, created_at) VALUES (?, ?, ?)`,
		sessionID, notes, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert notes: %w", err)
	}
	return nil
}

// LoadTranscript rebuilds a snapshot from archived rows in transcript order.
func (s *SQLiteStore) LoadTranscript(ctx context.Context, sessionID string) (transcript.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT segment_id, kind, ts_start, ts_end, speaker, text, confidence, degraded
		FROM utterances WHERE session_id = ? ORDER BY ts_start, segment_id`, sessionID)
	if err != nil {
		return transcript.Snapshot{}, fmt.Errorf("failed to query utterances: %w", err)
	}
	defer rows.Close()

	snap := transcript.Snapshot{SessionID: sessionID}
	for rows.Next() {
		var (
			segmentID  uint64
			kind       string
			tsStart    string
			tsEnd      sql.NullString
			speaker    sql.NullString
			text       sql.NullString
			confidence sql.NullFloat64
			degraded   int
		)
		if err := rows.Scan(&segmentID, &kind, &tsStart, &tsEnd, &speaker, &text, &confidence, &degraded); err != nil {
			return transcript.Snapshot{}, fmt.Errorf("failed to scan row: %w", err)
		}

		start, err := time.Parse(time.RFC3339Nano, tsStart)
		if err != nil {
			return transcript.Snapshot{}, fmt.Errorf("failed to parse ts_start: %w", err)
		}

		entry := transcript.Entry{Kind: transcript.EntryKind(kind), At: start}
		if entry.Kind == transcript.KindUtterance {
			u := &transcript.Utterance{
				SegmentID:  segmentID,
				Start:      start,
				Speaker:    speaker.String,
				Text:       text.String,
				Confidence: confidence.Float64,
				Degraded:   degraded != 0,
			}
			if tsEnd.Valid {
				if end, err := time.Parse(time.RFC3339Nano, tsEnd.String); err == nil {
					u.End = end
				}
			}
			entry.Utterance = u
		}
		snap.Entries = append(snap.Entries, entry)
	}

	return snap, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
