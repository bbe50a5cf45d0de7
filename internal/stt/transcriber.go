package stt

import (
	"context"
	"time"

	"github.com/user/meetscribe/internal/audio"
)

// Word carries optional per-word timing from backends that report it.
// Offsets are relative to the segment start.
type Word struct {
	Word       string        `json:"word"`
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Confidence float64       `json:"confidence"`
}

// Result is the speech-to-text output for one sealed segment. Exactly one
// Result is produced per segment; when every retry fails it is Degraded with
// empty text and zero confidence so the pipeline keeps moving.
type Result struct {
	SegmentID  uint64  `json:"segment_id"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
	Degraded   bool    `json:"degraded,omitempty"`
}

// Degraded builds the placeholder result substituted after exhausted retries.
func Degraded(segmentID uint64) *Result {
	return &Result{SegmentID: segmentID, Degraded: true}
}

// Transcriber is a speech-to-text engine. Implementations wrap retryable
// failures with backend.Transient.
type Transcriber interface {
	Transcribe(ctx context.Context, seg *audio.Segment) (*Result, error)
	Close() error
}
