package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/user/meetscribe/internal/transcript"
)

// Summariser turns a finished transcript into meeting notes. The notes
// structure is opaque to the pipeline.
type Summariser interface {
	Summarise(ctx context.Context, snap transcript.Snapshot) (string, error)
}

// Archive persists transcript snapshots and notes keyed by session id.
type Archive interface {
	SaveTranscript(ctx context.Context, snap transcript.Snapshot) error
	SaveNotes(ctx context.Context, sessionID, notes string) error
}

// CoordinatorFactory builds the per-session pipeline for a meeting URL.
type CoordinatorFactory func(sessionID, meetingURL string) (*Coordinator, error)

type session struct {
	coordinator *Coordinator
	meetingURL  string
	startedAt   time.Time
	done        chan struct{}

	snap transcript.Snapshot
	err  error
}

// Manager owns all live sessions. Each session's transcript is scoped to its
// coordinator, so concurrent meetings never share mutable state.
type Manager struct {
	factory    CoordinatorFactory
	summariser Summariser
	archives   []Archive

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewManager(factory CoordinatorFactory, summariser Summariser, archives ...Archive) *Manager {
	return &Manager{
		factory:    factory,
		summariser: summariser,
		archives:   archives,
		sessions:   make(map[string]*session),
	}
}

// StartSession joins the meeting asynchronously and returns the new session
// id. The pipeline runs until the meeting ends or StopSession is called.
func (m *Manager) StartSession(ctx context.Context, meetingURL string) (string, error) {
	if meetingURL == "" {
		return "", fmt.Errorf("meeting_url is required")
	}

	sessionID := uuid.New().String()

	coord, err := m.factory(sessionID, meetingURL)
	if err != nil {
		return "", fmt.Errorf("failed to build session pipeline: %w", err)
	}

	s := &session{
		coordinator: coord,
		meetingURL:  meetingURL,
		startedAt:   time.Now(),
		done:        make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[sessionID] = s
	m.mu.Unlock()

	// The session outlives the request that started it; its lifetime is
	// bounded by the connector stream and StopSession, not by ctx.
	go m.runSession(context.Background(), sessionID, s)

	log.Info().
		Str("session_id", sessionID).
		Str("meeting_url", meetingURL).
		Msg("Started meeting session")

	return sessionID, nil
}

func (m *Manager) runSession(ctx context.Context, sessionID string, s *session) {
	defer close(s.done)

	snap, err := s.coordinator.Run(ctx)
	s.snap = snap
	s.err = err

	if err != nil {
		log.Error().
			Str("session_id", sessionID).
			Err(err).
			Msg("Session ended with failure")
	}

	// Even a degraded session yields a transcript worth keeping.
	if len(snap.Entries) > 0 {
		m.finalize(sessionID, snap)
	}
}

// finalize hands the finished transcript to the summariser and the archives.
// Runs on a fresh context: the session context may already be cancelled.
func (m *Manager) finalize(sessionID string, snap transcript.Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, archive := range m.archives {
		if err := archive.SaveTranscript(ctx, snap); err != nil {
			log.Error().Str("session_id", sessionID).Err(err).Msg("Failed to archive transcript")
		}
	}

	if m.summariser == nil {
		return
	}

	notes, err := m.summariser.Summarise(ctx, snap)
	if err != nil {
		log.Error().Str("session_id", sessionID).Err(err).Msg("Failed to generate meeting notes")
		return
	}

	for _, archive := range m.archives {
		if err := archive.SaveNotes(ctx, sessionID, notes); err != nil {
			log.Error().Str("session_id", sessionID).Err(err).Msg("Failed to archive notes")
		}
	}

	log.Info().
		Str("session_id", sessionID).
		Int("entries", len(snap.Entries)).
		Msg("Session finalized and archived")
}

// StopSession drains the session and blocks until it reaches Closed.
func (m *Manager) StopSession(sessionID string) error {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no such session: %s", sessionID)
	}

	s.coordinator.Stop()
	<-s.done
	return s.err
}

// Snapshot returns the transcript of a live or finished session.
func (m *Manager) Snapshot(sessionID string) (transcript.Snapshot, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return transcript.Snapshot{}, fmt.Errorf("no such session: %s", sessionID)
	}

	select {
	case <-s.done:
		return s.snap, nil
	default:
		return s.coordinator.Snapshot(), nil
	}
}

// SessionState reports the lifecycle state of a session.
func (m *Manager) SessionState(sessionID string) (State, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return StateIdle, fmt.Errorf("no such session: %s", sessionID)
	}
	return s.coordinator.State(), nil
}

// StopAll drains every live session, used on process shutdown.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.StopSession(id); err != nil {
			log.Warn().Str("session_id", id).Err(err).Msg("Session stop returned error")
		}
	}
}
