package audio

import (
	"time"
)

// Frame is a single decoded slice of meeting audio as delivered by the
// connector. Frames are immutable after creation; the sequence number is
// assigned in arrival order by the connector.
type Frame struct {
	Seq      uint64
	PCM      []int16
	Captured time.Time
	Duration time.Duration
	Speakers []string // connector-provided speaker hints, may be empty
}

// SegmentState tracks the lifecycle of a Segment.
type SegmentState int

const (
	SegmentOpen SegmentState = iota
	SegmentSealed
)

// Segment is a bounded span of audio established by voice-activity and
// duration boundaries. It is the unit of diarization and transcription work.
// A Segment is mutable only while Open; sealing folds its frames into a
// single PCM buffer and the frame references are not retained.
type Segment struct {
	ID          uint64
	Start       time.Time
	End         time.Time
	PCM         []int16
	State       SegmentState
	Discardable bool // below minimum duration, skipped by the assembler
	Speakers    []string

	frames []*Frame
}

// Duration reports the wall-clock span the segment covers.
func (s *Segment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

func (s *Segment) append(f *Frame) {
	if len(s.frames) == 0 {
		s.Start = f.Captured
	}
	s.frames = append(s.frames, f)
	s.End = f.Captured.Add(f.Duration)
}

func (s *Segment) seal(minDuration time.Duration) {
	var total int
	for _, f := range s.frames {
		total += len(f.PCM)
	}
	s.PCM = make([]int16, 0, total)
	seen := make(map[string]struct{})
	for _, f := range s.frames {
		s.PCM = append(s.PCM, f.PCM...)
		for _, sp := range f.Speakers {
			if sp == "" {
				continue
			}
			if _, ok := seen[sp]; !ok {
				seen[sp] = struct{}{}
				s.Speakers = append(s.Speakers, sp)
			}
		}
	}
	s.frames = nil
	s.State = SegmentSealed
	s.Discardable = s.Duration() < minDuration
}

// VAD is the voice activity detection interface used by the Segmenter.
type VAD interface {
	IsSpeech(pcm []int16, sampleRate int) bool
	Close() error
}

// Decoder turns connector wire audio (opus) into PCM samples.
type Decoder interface {
	Decode(opus []byte) ([]int16, error)
}
