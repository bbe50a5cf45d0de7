package transcript

import (
	"time"
)

// EntryKind distinguishes spoken utterances from stream-discontinuity
// markers in the transcript.
type EntryKind string

const (
	KindUtterance EntryKind = "utterance"
	KindGap       EntryKind = "gap"
)

// Utterance is a finalized, speaker-attributed, transcribed span of speech.
// Immutable once formed.
type Utterance struct {
	SegmentID  uint64    `json:"segment_id"`
	Start      time.Time `json:"ts_start"`
	End        time.Time `json:"ts_end"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Degraded   bool      `json:"degraded,omitempty"`
}

// Entry is one row of the transcript: an utterance or a gap marker denoting
// a disconnect/reconnect discontinuity. At is the ordering key (utterance
// start time, or the moment the gap was observed).
type Entry struct {
	Kind      EntryKind  `json:"kind"`
	At        time.Time  `json:"at"`
	Utterance *Utterance `json:"utterance,omitempty"`
}

// Snapshot is a read-only copy of the transcript handed to the summariser
// and archive stores.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	TakenAt   time.Time `json:"taken_at"`
	Entries   []Entry   `json:"entries"`
}

// Utterances returns the spoken entries of the snapshot in transcript order.
func (s Snapshot) Utterances() []Utterance {
	out := make([]Utterance, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.Kind == KindUtterance && e.Utterance != nil {
			out = append(out, *e.Utterance)
		}
	}
	return out
}

// Transcript is the append-only, time-ordered record of one session. It is
// owned by the Assembler; all mutation happens under the assembler's lock.
type Transcript struct {
	sessionID string
	entries   []Entry
}

func newTranscript(sessionID string) *Transcript {
	return &Transcript{sessionID: sessionID}
}

// insert places an entry at its timestamp-ordered position. Out-of-order
// segment completions are normal under independent worker concurrency, so
// position is found by ordering key, never assumed to be the tail.
func (t *Transcript) insert(e Entry) {
	i := len(t.entries)
	for i > 0 {
		prev := t.entries[i-1]
		if prev.At.Before(e.At) {
			break
		}
		if prev.At.Equal(e.At) {
			// Ties between utterances break by segment id ascending.
			if e.Kind != KindUtterance || prev.Kind != KindUtterance ||
				prev.Utterance.SegmentID < e.Utterance.SegmentID {
				break
			}
		}
		i--
	}
	t.entries = append(t.entries, Entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e
}

func (t *Transcript) snapshot() Snapshot {
	entries := make([]Entry, len(t.entries))
	copy(entries, t.entries)
	return Snapshot{
		SessionID: t.sessionID,
		TakenAt:   time.Now(),
		Entries:   entries,
	}
}

func (t *Transcript) utteranceCount() int {
	n := 0
	for _, e := range t.entries {
		if e.Kind == KindUtterance {
			n++
		}
	}
	return n
}
