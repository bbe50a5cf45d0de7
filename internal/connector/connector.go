// Package connector defines the meeting-platform boundary: a joined meeting
// exposes a raw audio-frame stream plus lifecycle signals. The pipeline
// depends only on this interface; platform automation lives in the
// implementations.
package connector

import (
	"context"
	"time"

	"github.com/user/meetscribe/internal/audio"
)

// EventKind classifies connector lifecycle signals.
type EventKind int

const (
	// EventDisconnected signals a lost frame source; the pipeline suspends
	// consumption and waits for EventReconnected.
	EventDisconnected EventKind = iota
	// EventReconnected signals a renewed frame source after a disconnect.
	EventReconnected
	// EventStreamEnded signals an orderly end of the meeting audio stream.
	EventStreamEnded
	// EventFatal signals an unrecoverable platform failure; the session
	// drains immediately.
	EventFatal
)

func (k EventKind) String() string {
	switch k {
	case EventDisconnected:
		return "disconnected"
	case EventReconnected:
		return "reconnected"
	case EventStreamEnded:
		return "stream_ended"
	case EventFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Event is a lifecycle signal from the connector.
type Event struct {
	Kind EventKind
	At   time.Time
	Err  error
}

// Connector joins a meeting and exposes its audio as a stream of frames with
// monotonic sequence numbers. Frames and Events are each closed once the
// connector is fully shut down.
type Connector interface {
	Join(ctx context.Context) error
	Leave() error
	Frames() <-chan *audio.Frame
	Events() <-chan Event
}
