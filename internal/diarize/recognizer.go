package diarize

import (
	"context"

	"github.com/user/meetscribe/internal/audio"
)

// UnknownSpeaker is the label substituted when speaker recognition fails
// past all retries.
const UnknownSpeaker = "unknown"

// Result is the speaker attribution for one sealed segment.
type Result struct {
	SegmentID  uint64  `json:"segment_id"`
	Speaker    string  `json:"speaker"`
	Confidence float64 `json:"confidence"`
	Degraded   bool    `json:"degraded,omitempty"`
}

// Degraded builds the unknown-speaker placeholder used after exhausted
// retries.
func Degraded(segmentID uint64) *Result {
	return &Result{SegmentID: segmentID, Speaker: UnknownSpeaker, Degraded: true}
}

// SpeakerRecognizer is a speaker-recognition engine. Implementations wrap
// retryable failures with backend.Transient.
type SpeakerRecognizer interface {
	Identify(ctx context.Context, seg *audio.Segment) (*Result, error)
	Close() error
}
