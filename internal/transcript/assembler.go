package transcript

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/user/meetscribe/internal/audio"
	"github.com/user/meetscribe/internal/diarize"
	"github.com/user/meetscribe/internal/stt"
)

type segmentStatus int

const (
	statusWaitingBoth segmentStatus = iota
	statusHasDiarization
	statusHasTranscription
	statusAppended
	statusDropped
)

// pendingSegment is the per-segment join state: a sealed segment waiting for
// its diarization and transcription halves.
type pendingSegment struct {
	seg      *audio.Segment
	status   segmentStatus
	dia      *diarize.Result
	tr       *stt.Result
	sealedAt time.Time
}

// Assembler joins the two independent result streams by segment id and
// appends finalized utterances to the session transcript in start-timestamp
// order. The join is idempotent: duplicate results for a segment that has
// already reached a terminal state never alter the transcript.
type Assembler struct {
	mu         sync.Mutex
	timeout    time.Duration
	pending    map[uint64]*pendingSegment
	terminal   map[uint64]segmentStatus
	transcript *Transcript

	now func() time.Time
}

// NewAssembler creates an assembler for one session. timeout bounds how long
// a segment may wait for its results before forced finalization.
func NewAssembler(sessionID string, timeout time.Duration) *Assembler {
	return &Assembler{
		timeout:    timeout,
		pending:    make(map[uint64]*pendingSegment),
		terminal:   make(map[uint64]segmentStatus),
		transcript: newTranscript(sessionID),
		now:        time.Now,
	}
}

// TrackSegment registers a sealed segment before its results are dispatched.
// Discardable segments (noise blips under the minimum duration) go straight
// to the Dropped terminal state and never enter the transcript.
func (a *Assembler) TrackSegment(seg *audio.Segment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, done := a.terminal[seg.ID]; done {
		return
	}
	if _, ok := a.pending[seg.ID]; ok {
		return
	}

	if seg.Discardable {
		a.terminal[seg.ID] = statusDropped
		log.Debug().
			Uint64("segment_id", seg.ID).
			Dur("duration", seg.Duration()).
			Msg("Dropped discardable segment")
		return
	}

	a.pending[seg.ID] = &pendingSegment{
		seg:      seg,
		status:   statusWaitingBoth,
		sealedAt: a.now(),
	}
}

// AddDiarization records the speaker attribution for a segment, joining and
// appending the utterance when the transcription half is already present.
func (a *Assembler) AddDiarization(r *diarize.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pending[r.SegmentID]
	if !ok || p.dia != nil {
		return
	}
	p.dia = r
	if p.tr != nil {
		a.join(p)
	} else {
		p.status = statusHasDiarization
	}
}

// AddTranscription records the recognized text for a segment, joining and
// appending the utterance when the diarization half is already present.
func (a *Assembler) AddTranscription(r *stt.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.pending[r.SegmentID]
	if !ok || p.tr != nil {
		return
	}
	p.tr = r
	if p.dia != nil {
		a.join(p)
	} else {
		p.status = statusHasTranscription
	}
}

// join forms the utterance and inserts it at its ordered position. Caller
// holds the lock and guarantees both halves are present.
func (a *Assembler) join(p *pendingSegment) {
	utt := &Utterance{
		SegmentID:  p.seg.ID,
		Start:      p.seg.Start,
		End:        p.seg.End,
		Speaker:    p.dia.Speaker,
		Text:       p.tr.Text,
		Confidence: p.tr.Confidence,
		Degraded:   p.dia.Degraded || p.tr.Degraded,
	}

	a.transcript.insert(Entry{Kind: KindUtterance, At: utt.Start, Utterance: utt})
	delete(a.pending, p.seg.ID)
	a.terminal[p.seg.ID] = statusAppended

	log.Debug().
		Uint64("segment_id", p.seg.ID).
		Str("speaker", utt.Speaker).
		Bool("degraded", utt.Degraded).
		Int("transcript_len", len(a.transcript.entries)).
		Msg("Appended utterance")
}

// ExpireStale forcibly finalizes segments whose results have not both
// arrived within the completion timeout, substituting degraded placeholders
// for the missing halves. This caps worst-case assembler memory and latency.
// It returns the number of segments finalized.
func (a *Assembler) ExpireStale() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-a.timeout)
	n := 0
	for _, p := range a.pending {
		if p.sealedAt.After(cutoff) {
			continue
		}
		a.forceJoin(p)
		n++
	}
	return n
}

// FinalizeAll force-joins every pending segment regardless of age. Used
// during session drain so the transcript always reaches a terminal shape.
func (a *Assembler) FinalizeAll() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, p := range a.pending {
		a.forceJoin(p)
		n++
	}
	return n
}

func (a *Assembler) forceJoin(p *pendingSegment) {
	if p.dia == nil {
		p.dia = diarize.Degraded(p.seg.ID)
	}
	if p.tr == nil {
		p.tr = stt.Degraded(p.seg.ID)
	}
	log.Warn().
		Uint64("segment_id", p.seg.ID).
		Msg("Segment timed out waiting for results, finalizing with partial data")
	a.join(p)
}

// AddGapMarker records a stream discontinuity at the given instant.
func (a *Assembler) AddGapMarker(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.transcript.insert(Entry{Kind: KindGap, At: at})
	log.Info().Time("at", at).Msg("Inserted transcript gap marker")
}

// PendingCount reports segments still waiting for one or both results.
func (a *Assembler) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// UtteranceCount reports finalized utterances in the transcript.
func (a *Assembler) UtteranceCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transcript.utteranceCount()
}

// Snapshot returns a read-only copy of the transcript as it stands.
func (a *Assembler) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transcript.snapshot()
}
