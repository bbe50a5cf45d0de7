package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/user/meetscribe/internal/audio"
	"github.com/user/meetscribe/internal/backend"
	"github.com/user/meetscribe/internal/connector"
	"github.com/user/meetscribe/internal/diarize"
	"github.com/user/meetscribe/internal/stt"
	"github.com/user/meetscribe/internal/transcript"
)

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// fakeConnector replays a scripted frame stream and event sequence.
type fakeConnector struct {
	joinErr error
	frames  chan *audio.Frame
	events  chan connector.Event

	mu   sync.Mutex
	left bool
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		frames: make(chan *audio.Frame, 256),
		events: make(chan connector.Event, 16),
	}
}

func (f *fakeConnector) Join(ctx context.Context) error { return f.joinErr }

func (f *fakeConnector) Leave() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.left {
		f.left = true
		close(f.frames)
		close(f.events)
	}
	return nil
}

func (f *fakeConnector) Frames() <-chan *audio.Frame    { return f.frames }
func (f *fakeConnector) Events() <-chan connector.Event { return f.events }

// levelVAD treats non-zero samples as speech.
type levelVAD struct{}

func (levelVAD) IsSpeech(pcm []int16, sampleRate int) bool {
	for _, s := range pcm {
		if s != 0 {
			return true
		}
	}
	return false
}

func (levelVAD) Close() error { return nil }

type scriptedTranscriber struct {
	mu       sync.Mutex
	deadSegs map[uint64]bool
	delays   map[uint64]time.Duration
}

func (s *scriptedTranscriber) Transcribe(ctx context.Context, seg *audio.Segment) (*stt.Result, error) {
	s.mu.Lock()
	dead := s.deadSegs[seg.ID]
	delay := s.delays[seg.ID]
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if dead {
		return nil, backend.Transient(errors.New("stt backend down"))
	}
	return &stt.Result{SegmentID: seg.ID, Text: fmt.Sprintf("text-%d", seg.ID), Confidence: 0.95}, nil
}

func (s *scriptedTranscriber) Close() error { return nil }

type scriptedRecognizer struct {
	mu     sync.Mutex
	delays map[uint64]time.Duration
}

func (s *scriptedRecognizer) Identify(ctx context.Context, seg *audio.Segment) (*diarize.Result, error) {
	s.mu.Lock()
	delay := s.delays[seg.ID]
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return &diarize.Result{SegmentID: seg.ID, Speaker: fmt.Sprintf("speaker-%d", seg.ID%2), Confidence: 0.9}, nil
}

func (s *scriptedRecognizer) Close() error { return nil }

func testConfig() Config {
	return Config{
		FrameBufferCapacity: 128,
		Segmenter: audio.SegmenterConfig{
			SilenceGap:  40 * time.Millisecond,
			MaxDuration: 500 * time.Millisecond,
			MinDuration: 60 * time.Millisecond,
			SampleRate:  16000,
		},
		SegmentTimeout: 2 * time.Second,
		DrainTimeout:   5 * time.Second,
	}
}

func newTestCoordinator(conn connector.Connector, tr stt.Transcriber, rec diarize.SpeakerRecognizer) *Coordinator {
	retry := backend.RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	return NewCoordinator(
		"test-session",
		testConfig(),
		conn,
		levelVAD{},
		stt.NewWorker(tr, 2, retry),
		diarize.NewWorker(rec, 2, retry),
	)
}

// pushPattern feeds 20ms frames: 's' is speech, '_' is silence. Returns the
// timestamp following the last frame.
func pushPattern(f *fakeConnector, seq *uint64, at time.Time, pattern string) time.Time {
	for _, c := range pattern {
		*seq++
		pcm := []int16{0, 0}
		if c == 's' {
			pcm = []int16{2000, -2000}
		}
		f.frames <- &audio.Frame{
			Seq:      *seq,
			PCM:      pcm,
			Captured: at,
			Duration: 20 * time.Millisecond,
		}
		at = at.Add(20 * time.Millisecond)
	}
	return at
}

func utteranceIDs(snap transcript.Snapshot) []uint64 {
	var ids []uint64
	for _, u := range snap.Utterances() {
		ids = append(ids, u.SegmentID)
	}
	return ids
}

func TestSessionProducesOrderedTranscript(t *testing.T) {
	conn := newFakeConnector()
	tr := &scriptedTranscriber{
		deadSegs: map[uint64]bool{},
		// Skew completion order: segment 1 finishes last on the STT side.
		delays: map[uint64]time.Duration{1: 50 * time.Millisecond},
	}
	rec := &scriptedRecognizer{
		delays: map[uint64]time.Duration{2: 40 * time.Millisecond},
	}
	coord := newTestCoordinator(conn, tr, rec)

	var seq uint64
	at := base
	at = pushPattern(conn, &seq, at, "sssss___") // segment 1
	at = pushPattern(conn, &seq, at, "sssss___") // segment 2
	pushPattern(conn, &seq, at, "sssss")         // segment 3, sealed on stream end
	conn.Leave()

	snap, err := coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run = %v", err)
	}
	if coord.State() != StateClosed {
		t.Errorf("state = %v, want closed", coord.State())
	}

	ids := utteranceIDs(snap)
	if len(ids) != 3 {
		t.Fatalf("utterances = %v, want 3 segments", ids)
	}
	for i, want := range []uint64{1, 2, 3} {
		if ids[i] != want {
			t.Fatalf("transcript order %v, want [1 2 3]", ids)
		}
	}
	for _, u := range snap.Utterances() {
		if u.Text != fmt.Sprintf("text-%d", u.SegmentID) {
			t.Errorf("utterance %d text = %q", u.SegmentID, u.Text)
		}
		if u.Speaker == "" {
			t.Errorf("utterance %d missing speaker", u.SegmentID)
		}
	}
}

func TestSessionSurvivesDeadSTTBackend(t *testing.T) {
	conn := newFakeConnector()
	tr := &scriptedTranscriber{
		deadSegs: map[uint64]bool{2: true},
		delays:   map[uint64]time.Duration{},
	}
	rec := &scriptedRecognizer{delays: map[uint64]time.Duration{}}
	coord := newTestCoordinator(conn, tr, rec)

	var seq uint64
	at := base
	at = pushPattern(conn, &seq, at, "sssss___")
	at = pushPattern(conn, &seq, at, "sssss___")
	pushPattern(conn, &seq, at, "sssss")
	conn.Leave()

	snap, err := coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run = %v, dead backend must not fail the session", err)
	}

	utts := snap.Utterances()
	if len(utts) != 3 {
		t.Fatalf("utterances = %d, want 3", len(utts))
	}
	u := utts[1]
	if u.SegmentID != 2 {
		t.Fatalf("second utterance is segment %d", u.SegmentID)
	}
	if !u.Degraded || u.Text != "" || u.Confidence != 0 {
		t.Errorf("segment 2 should be degraded with empty text: %+v", u)
	}
	if u.Speaker == "" || u.Speaker == diarize.UnknownSpeaker {
		t.Errorf("diarization half should have survived: speaker = %q", u.Speaker)
	}
}

func TestSessionInsertsGapMarkerOnReconnect(t *testing.T) {
	conn := newFakeConnector()
	tr := &scriptedTranscriber{deadSegs: map[uint64]bool{}, delays: map[uint64]time.Duration{}}
	rec := &scriptedRecognizer{delays: map[uint64]time.Duration{}}
	coord := newTestCoordinator(conn, tr, rec)

	var seq uint64
	at := pushPattern(conn, &seq, base, "sssss___")

	dropAt := at.Add(time.Second)
	conn.events <- connector.Event{Kind: connector.EventDisconnected, At: dropAt}
	conn.events <- connector.Event{Kind: connector.EventReconnected, At: dropAt.Add(2 * time.Second)}

	pushPattern(conn, &seq, dropAt.Add(4*time.Second), "sssss___")
	conn.Leave()

	snap, err := coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run = %v", err)
	}

	ids := utteranceIDs(snap)
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("utterances = %v, want [1 2] with none lost or duplicated", ids)
	}

	gapIdx := -1
	for i, e := range snap.Entries {
		if e.Kind == transcript.KindGap {
			gapIdx = i
		}
	}
	if gapIdx != 1 {
		t.Fatalf("gap marker at entry %d, want between the two utterances (entries: %d)", gapIdx, len(snap.Entries))
	}
}

func TestSessionDropsSubMinimumSegments(t *testing.T) {
	conn := newFakeConnector()
	tr := &scriptedTranscriber{deadSegs: map[uint64]bool{}, delays: map[uint64]time.Duration{}}
	rec := &scriptedRecognizer{delays: map[uint64]time.Duration{}}
	coord := newTestCoordinator(conn, tr, rec)

	var seq uint64
	at := base
	at = pushPattern(conn, &seq, at, "ss___") // 40ms cough, below 60ms minimum
	pushPattern(conn, &seq, at, "sssss___")   // real utterance
	conn.Leave()

	snap, err := coord.Run(context.Background())
	if err != nil {
		t.Fatalf("Run = %v", err)
	}

	ids := utteranceIDs(snap)
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("utterances = %v, want only segment 2", ids)
	}
}

func TestSessionFailsWhenJoinFails(t *testing.T) {
	conn := newFakeConnector()
	conn.joinErr = errors.New("platform rejected connection")
	coord := newTestCoordinator(conn, &scriptedTranscriber{deadSegs: map[uint64]bool{}, delays: map[uint64]time.Duration{}}, &scriptedRecognizer{delays: map[uint64]time.Duration{}})

	_, err := coord.Run(context.Background())
	if !errors.Is(err, ErrEmptySession) {
		t.Fatalf("Run = %v, want ErrEmptySession", err)
	}
	if coord.State() != StateClosed {
		t.Errorf("state = %v, want closed", coord.State())
	}
}

func TestSessionFatalBeforeAudioIsEmptySession(t *testing.T) {
	conn := newFakeConnector()
	coord := newTestCoordinator(conn, &scriptedTranscriber{deadSegs: map[uint64]bool{}, delays: map[uint64]time.Duration{}}, &scriptedRecognizer{delays: map[uint64]time.Duration{}})

	conn.events <- connector.Event{
		Kind: connector.EventFatal,
		At:   base,
		Err:  errors.New("meeting ended abnormally"),
	}
	conn.Leave()

	_, err := coord.Run(context.Background())
	if !errors.Is(err, ErrEmptySession) {
		t.Fatalf("Run = %v, want ErrEmptySession", err)
	}
}

func TestSessionFatalAfterAudioKeepsTranscript(t *testing.T) {
	conn := newFakeConnector()
	tr := &scriptedTranscriber{deadSegs: map[uint64]bool{}, delays: map[uint64]time.Duration{}}
	rec := &scriptedRecognizer{delays: map[uint64]time.Duration{}}
	coord := newTestCoordinator(conn, tr, rec)

	var seq uint64
	pushPattern(conn, &seq, base, "sssss___")
	conn.events <- connector.Event{
		Kind: connector.EventFatal,
		At:   base.Add(time.Second),
		Err:  errors.New("meeting ended abnormally"),
	}
	conn.Leave()

	snap, err := coord.Run(context.Background())
	if err == nil {
		t.Fatal("fatal connector error must surface a session failure")
	}
	if errors.Is(err, ErrEmptySession) {
		t.Fatal("session with captured audio is not empty")
	}
	if len(snap.Utterances()) != 1 {
		t.Fatalf("utterances = %d, want the pre-failure transcript", len(snap.Utterances()))
	}
}

func TestStopDrainsSession(t *testing.T) {
	conn := newFakeConnector()
	tr := &scriptedTranscriber{deadSegs: map[uint64]bool{}, delays: map[uint64]time.Duration{}}
	rec := &scriptedRecognizer{delays: map[uint64]time.Duration{}}
	coord := newTestCoordinator(conn, tr, rec)

	var seq uint64
	pushPattern(conn, &seq, base, "sssss___")

	type result struct {
		snap transcript.Snapshot
		err  error
	}
	done := make(chan result, 1)
	go func() {
		snap, err := coord.Run(context.Background())
		done <- result{snap, err}
	}()

	time.Sleep(100 * time.Millisecond)
	coord.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Run after Stop = %v", r.err)
		}
		if len(r.snap.Utterances()) != 1 {
			t.Errorf("utterances = %d, want 1", len(r.snap.Utterances()))
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run never returned after Stop")
	}
}
