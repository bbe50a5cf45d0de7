package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/user/meetscribe/internal/transcript"
)

// FileStore archives transcripts as JSONL and notes as markdown under a base
// directory.
type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) (*FileStore, error) {
	transcriptDir := filepath.Join(baseDir, "transcripts")
	notesDir := filepath.Join(baseDir, "notes")

	if err := os.MkdirAll(transcriptDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	if err := os.MkdirAll(notesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create notes directory: %w", err)
	}

	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) SaveTranscript(ctx context.Context, snap transcript.Snapshot) error {
	path := filepath.Join(s.baseDir, "transcripts", fmt.Sprintf("%s.jsonl", snap.SessionID))

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create transcript file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	for _, entry := range snap.Entries {
		if err := encoder.Encode(entry); err != nil {
			return fmt.Errorf("failed to encode transcript entry: %w", err)
		}
	}

	log.Info().
		Str("session_id", snap.SessionID).
		Str("file", path).
		Int("entries", len(snap.Entries)).
		Msg("Saved transcript")

	return nil
}

func (s *FileStore) SaveNotes(ctx context.Context, sessionID, notes string) error {
	path := filepath.Join(s.baseDir, "notes", fmt.Sprintf("%s.md", sessionID))

	if err := os.WriteFile(path, []byte(notes), 0644); err != nil {
		return fmt.Errorf("failed to write notes file: %w", err)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("file", path).
		Int("size", len(notes)).
		Msg("Saved notes")

	return nil
}

// LoadTranscript reads an archived transcript back, serving sessions that
// finished in an earlier process lifetime.
func (s *FileStore) LoadTranscript(ctx context.Context, sessionID string) (transcript.Snapshot, error) {
	path := filepath.Join(s.baseDir, "transcripts", fmt.Sprintf("%s.jsonl", sessionID))

	file, err := os.Open(path)
	if err != nil {
		return transcript.Snapshot{}, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	snap := transcript.Snapshot{SessionID: sessionID}
	decoder := json.NewDecoder(file)
	for decoder.More() {
		var entry transcript.Entry
		if err := decoder.Decode(&entry); err != nil {
			return transcript.Snapshot{}, fmt.Errorf("failed to decode transcript entry: %w", err)
		}
		snap.Entries = append(snap.Entries, entry)
	}

	return snap, nil
}
