package transcript

import (
	"testing"
	"time"

	"github.com/user/meetscribe/internal/audio"
	"github.com/user/meetscribe/internal/diarize"
	"github.com/user/meetscribe/internal/stt"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func sealedSeg(id uint64) *audio.Segment {
	start := base.Add(time.Duration(id) * time.Second)
	return &audio.Segment{
		ID:    id,
		Start: start,
		End:   start.Add(900 * time.Millisecond),
		State: audio.SegmentSealed,
		PCM:   []int16{1, 2, 3},
	}
}

func diaResult(id uint64, speaker string) *diarize.Result {
	return &diarize.Result{SegmentID: id, Speaker: speaker, Confidence: 0.8}
}

func sttResult(id uint64, text string) *stt.Result {
	return &stt.Result{SegmentID: id, Text: text, Confidence: 0.9}
}

func segmentIDs(snap Snapshot) []uint64 {
	var ids []uint64
	for _, u := range snap.Utterances() {
		ids = append(ids, u.SegmentID)
	}
	return ids
}

func TestAssemblerJoinsOutOfOrderCompletions(t *testing.T) {
	a := NewAssembler("s1", time.Minute)
	for id := uint64(1); id <= 3; id++ {
		a.TrackSegment(sealedSeg(id))
	}

	// Transcription completes 2,1,3; diarization completes 1,3,2.
	a.AddTranscription(sttResult(2, "two"))
	a.AddDiarization(diaResult(1, "alice"))
	a.AddTranscription(sttResult(1, "one"))
	a.AddDiarization(diaResult(3, "bob"))
	a.AddTranscription(sttResult(3, "three"))
	a.AddDiarization(diaResult(2, "alice"))

	snap := a.Snapshot()
	ids := segmentIDs(snap)
	if len(ids) != 3 {
		t.Fatalf("got %d utterances, want 3", len(ids))
	}
	for i, want := range []uint64{1, 2, 3} {
		if ids[i] != want {
			t.Fatalf("transcript order %v, want [1 2 3]", ids)
		}
	}

	utts := snap.Utterances()
	if utts[0].Speaker != "alice" || utts[0].Text != "one" {
		t.Errorf("utterance 1 = %+v", utts[0])
	}
	if a.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", a.PendingCount())
	}
}

func TestAssemblerDuplicateResultsAreIdempotent(t *testing.T) {
	a := NewAssembler("s1", time.Minute)
	a.TrackSegment(sealedSeg(1))

	a.AddTranscription(sttResult(1, "hello"))
	a.AddDiarization(diaResult(1, "alice"))

	// Duplicates after the join must not alter the transcript.
	a.AddTranscription(sttResult(1, "HELLO AGAIN"))
	a.AddDiarization(diaResult(1, "mallory"))

	snap := a.Snapshot()
	if n := a.UtteranceCount(); n != 1 {
		t.Fatalf("utterances = %d, want 1", n)
	}
	u := snap.Utterances()[0]
	if u.Text != "hello" || u.Speaker != "alice" {
		t.Errorf("duplicate mutated the utterance: %+v", u)
	}
}

func TestAssemblerPartialStateBeforeJoin(t *testing.T) {
	a := NewAssembler("s1", time.Minute)
	a.TrackSegment(sealedSeg(1))

	a.AddDiarization(diaResult(1, "alice"))
	if n := a.UtteranceCount(); n != 0 {
		t.Fatalf("joined with only one half: %d utterances", n)
	}
	if a.PendingCount() != 1 {
		t.Fatal("segment left pending state early")
	}

	a.AddTranscription(sttResult(1, "hi"))
	if n := a.UtteranceCount(); n != 1 {
		t.Fatalf("utterances = %d, want 1 after both halves", n)
	}
}

func TestAssemblerSkipsDiscardableSegments(t *testing.T) {
	a := NewAssembler("s1", time.Minute)

	blip := sealedSeg(1)
	blip.End = blip.Start.Add(80 * time.Millisecond)
	blip.Discardable = true
	a.TrackSegment(blip)
	a.TrackSegment(sealedSeg(2))

	// Results for the blip may still arrive; they must be ignored.
	a.AddTranscription(sttResult(1, "cough"))
	a.AddDiarization(diaResult(1, "alice"))
	a.AddTranscription(sttResult(2, "real speech"))
	a.AddDiarization(diaResult(2, "bob"))

	ids := segmentIDs(a.Snapshot())
	if len(ids) != 1 || ids[0] != 2 {
		t.Fatalf("transcript ids = %v, want [2]", ids)
	}
}

func TestAssemblerForcedFinalizationOnTimeout(t *testing.T) {
	a := NewAssembler("s1", 10*time.Second)
	now := base
	a.now = func() time.Time { return now }

	a.TrackSegment(sealedSeg(1))
	a.AddDiarization(diaResult(1, "alice")) // transcription never arrives

	now = now.Add(5 * time.Second)
	if n := a.ExpireStale(); n != 0 {
		t.Fatalf("expired %d segments before the timeout", n)
	}

	now = now.Add(6 * time.Second)
	if n := a.ExpireStale(); n != 1 {
		t.Fatalf("expired %d segments, want 1", n)
	}

	utts := a.Snapshot().Utterances()
	if len(utts) != 1 {
		t.Fatalf("utterances = %d, want 1", len(utts))
	}
	u := utts[0]
	if !u.Degraded {
		t.Error("forced utterance not marked degraded")
	}
	if u.Speaker != "alice" {
		t.Errorf("partial diarization lost: speaker = %q", u.Speaker)
	}
	if u.Text != "" || u.Confidence != 0 {
		t.Errorf("missing transcription must degrade to empty text: %+v", u)
	}
	if a.PendingCount() != 0 {
		t.Error("timed-out segment still pending")
	}
}

func TestAssemblerFinalizeAll(t *testing.T) {
	a := NewAssembler("s1", time.Hour)
	a.TrackSegment(sealedSeg(1))
	a.TrackSegment(sealedSeg(2))
	a.AddTranscription(sttResult(2, "late join"))

	if n := a.FinalizeAll(); n != 2 {
		t.Fatalf("finalized %d, want 2", n)
	}
	ids := segmentIDs(a.Snapshot())
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("transcript ids = %v, want [1 2]", ids)
	}
}

func TestAssemblerGapMarkerOrdering(t *testing.T) {
	a := NewAssembler("s1", time.Minute)

	a.TrackSegment(sealedSeg(1))
	a.AddTranscription(sttResult(1, "before the drop"))
	a.AddDiarization(diaResult(1, "alice"))

	gapAt := base.Add(90 * time.Second)
	a.AddGapMarker(gapAt)

	// Post-reconnect segment starts after the gap.
	late := sealedSeg(120)
	a.TrackSegment(late)
	a.AddTranscription(sttResult(120, "after the drop"))
	a.AddDiarization(diaResult(120, "alice"))

	entries := a.Snapshot().Entries
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Kind != KindUtterance || entries[1].Kind != KindGap || entries[2].Kind != KindUtterance {
		t.Fatalf("entry kinds = %v %v %v, want utterance gap utterance",
			entries[0].Kind, entries[1].Kind, entries[2].Kind)
	}
}

func TestTranscriptOrdersByStartThenSegmentID(t *testing.T) {
	a := NewAssembler("s1", time.Minute)

	s1 := sealedSeg(1)
	s2 := sealedSeg(2)
	s2.Start = s1.Start // tie on start timestamp
	s2.End = s1.End

	a.TrackSegment(s2)
	a.AddTranscription(sttResult(2, "b"))
	a.AddDiarization(diaResult(2, "bob"))

	a.TrackSegment(s1)
	a.AddTranscription(sttResult(1, "a"))
	a.AddDiarization(diaResult(1, "alice"))

	ids := segmentIDs(a.Snapshot())
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("tie-break order = %v, want [1 2]", ids)
	}
}

func TestSnapshotIsIsolatedCopy(t *testing.T) {
	a := NewAssembler("s1", time.Minute)
	a.TrackSegment(sealedSeg(1))
	a.AddTranscription(sttResult(1, "x"))
	a.AddDiarization(diaResult(1, "alice"))

	snap := a.Snapshot()
	if snap.SessionID != "s1" {
		t.Errorf("SessionID = %q", snap.SessionID)
	}

	a.TrackSegment(sealedSeg(2))
	a.AddTranscription(sttResult(2, "y"))
	a.AddDiarization(diaResult(2, "bob"))

	if len(snap.Entries) != 1 {
		t.Error("snapshot mutated by later inserts")
	}
}
