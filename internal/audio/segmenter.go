package audio

import (
	"time"

	"github.com/rs/zerolog/log"
)

// SegmenterConfig holds the boundary parameters for utterance slicing.
type SegmenterConfig struct {
	SilenceGap  time.Duration // consecutive silence that seals a segment
	MaxDuration time.Duration // hard cap on segment length
	MinDuration time.Duration // segments shorter than this are discardable
	SampleRate  int
}

// Segmenter slices the frame stream into utterance-candidate segments. It
// maintains at most one open segment: a frame either extends it or seals it
// when a voice-activity boundary or the duration cap is reached. Segment ids
// are assigned in strictly increasing order matching segment start time.
//
// Segmenter is not safe for concurrent use; it has a single caller, the
// pipeline's frame consumer.
type Segmenter struct {
	cfg SegmenterConfig
	vad VAD

	nextID  uint64
	open    *Segment
	silence time.Duration
}

func NewSegmenter(cfg SegmenterConfig, vad VAD) *Segmenter {
	return &Segmenter{cfg: cfg, vad: vad, nextID: 1}
}

// Process folds one frame into the stream. It returns the sealed segment when
// the frame completed an utterance boundary, nil otherwise.
func (s *Segmenter) Process(f *Frame) *Segment {
	speech := s.vad.IsSpeech(f.PCM, s.cfg.SampleRate)

	if s.open == nil {
		if !speech {
			return nil // leading silence starts nothing
		}
		s.open = &Segment{ID: s.nextID, State: SegmentOpen}
		s.nextID++
		s.silence = 0
	}

	// Silence frames advance the gap clock but never extend the segment, so
	// a short blip stays short no matter how much silence trails it.
	if !speech {
		s.silence += f.Duration
		if s.silence >= s.cfg.SilenceGap {
			return s.sealOpen("silence_gap")
		}
		return nil
	}

	s.silence = 0
	s.open.append(f)

	if s.open.Duration() >= s.cfg.MaxDuration {
		return s.sealOpen("max_duration")
	}

	return nil
}

// Close seals and returns the trailing segment, if any. Called on stream end;
// the final segment is sealed even when short.
func (s *Segmenter) Close() *Segment {
	if s.open == nil {
		return nil
	}
	return s.sealOpen("stream_end")
}

func (s *Segmenter) sealOpen(reason string) *Segment {
	seg := s.open
	s.open = nil
	s.silence = 0
	seg.seal(s.cfg.MinDuration)

	log.Debug().
		Uint64("segment_id", seg.ID).
		Time("start", seg.Start).
		Time("end", seg.End).
		Dur("duration", seg.Duration()).
		Bool("discardable", seg.Discardable).
		Str("reason", reason).
		Msg("Sealed segment")

	return seg
}
