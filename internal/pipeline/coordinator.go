// Package pipeline owns the per-session lifecycle: it pulls frames from the
// connector through the ring buffer, slices them into segments, fans sealed
// segments out to the diarization and transcription workers, and feeds both
// result streams into the transcript assembler.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/user/meetscribe/internal/audio"
	"github.com/user/meetscribe/internal/connector"
	"github.com/user/meetscribe/internal/diarize"
	"github.com/user/meetscribe/internal/stt"
	"github.com/user/meetscribe/internal/transcript"
	"golang.org/x/sync/errgroup"
)

// State is the coordinator lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateJoining
	StateStreaming
	StateReconnecting
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ErrEmptySession is returned when the connector failed fatally before a
// single segment was captured.
var ErrEmptySession = errors.New("session ended before any audio was captured")

// Config bounds the pipeline's buffering, segmentation, and drain behavior.
type Config struct {
	FrameBufferCapacity int
	Segmenter           audio.SegmenterConfig
	SegmentTimeout      time.Duration // forced finalization bound per segment
	DrainTimeout        time.Duration // bound on waiting out in-flight backend calls
}

// Coordinator supervises one session: Idle → Joining → Streaming →
// Draining → Closed, with a Reconnecting sub-state on connector drops that
// preserves the transcript and join state.
type Coordinator struct {
	sessionID string
	cfg       Config

	conn      connector.Connector
	buffer    *audio.FrameBuffer
	segmenter *audio.Segmenter
	sttWorker *stt.Worker
	diaWorker *diarize.Worker
	assembler *transcript.Assembler

	state       atomic.Int32
	sealedCount atomic.Uint64
	stopChan    chan struct{}
	stopped     atomic.Bool
	fatalErr    error
}

func NewCoordinator(
	sessionID string,
	cfg Config,
	conn connector.Connector,
	vad audio.VAD,
	sttWorker *stt.Worker,
	diaWorker *diarize.Worker,
) *Coordinator {
	c := &Coordinator{
		sessionID: sessionID,
		cfg:       cfg,
		conn:      conn,
		segmenter: audio.NewSegmenter(cfg.Segmenter, vad),
		sttWorker: sttWorker,
		diaWorker: diaWorker,
		assembler: transcript.NewAssembler(sessionID, cfg.SegmentTimeout),
		stopChan:  make(chan struct{}),
	}
	c.buffer = audio.NewFrameBuffer(cfg.FrameBufferCapacity, func(seq uint64) {
		log.Debug().Str("session_id", sessionID).Uint64("seq", seq).Msg("FrameDropped")
	})
	c.state.Store(int32(StateIdle))
	return c
}

// State reports the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		log.Info().
			Str("session_id", c.sessionID).
			Str("from", old.String()).
			Str("to", s.String()).
			Msg("Session state transition")
	}
}

// Snapshot exposes the transcript as it stands, safe to call mid-session.
func (c *Coordinator) Snapshot() transcript.Snapshot {
	return c.assembler.Snapshot()
}

// Stop requests an orderly drain. Safe to call more than once.
func (c *Coordinator) Stop() {
	if c.stopped.CompareAndSwap(false, true) {
		close(c.stopChan)
		if err := c.conn.Leave(); err != nil {
			log.Warn().Str("session_id", c.sessionID).Err(err).Msg("Connector leave failed")
		}
	}
}

// Run drives the session to completion and returns the final transcript.
// The session always yields a transcript (possibly holding degraded
// utterances and gap markers) unless the connector failed before any audio
// was captured.
func (c *Coordinator) Run(ctx context.Context) (transcript.Snapshot, error) {
	c.setState(StateJoining)
	if err := c.conn.Join(ctx); err != nil {
		c.setState(StateClosed)
		return transcript.Snapshot{}, fmt.Errorf("%w: %v", ErrEmptySession, err)
	}

	// Backend calls run under their own context so draining can cancel
	// whatever is still in flight once the grace period lapses.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	if err := c.sttWorker.Start(workerCtx); err != nil {
		c.setState(StateClosed)
		return transcript.Snapshot{}, err
	}
	if err := c.diaWorker.Start(workerCtx); err != nil {
		c.setState(StateClosed)
		return transcript.Snapshot{}, err
	}

	c.setState(StateStreaming)

	expireDone := make(chan struct{})
	go c.expireLoop(expireDone)

	var dispatchG, resultG errgroup.Group

	// Ingest: connector frames into the ring buffer. The buffer absorbs
	// producer bursts and never blocks this loop beyond a bounded drop.
	dispatchG.Go(func() error {
		for frame := range c.conn.Frames() {
			c.buffer.Push(frame)
		}
		c.buffer.Close()
		return nil
	})

	// Lifecycle events: reconnect handling and fatal propagation.
	dispatchG.Go(func() error {
		for ev := range c.conn.Events() {
			c.handleEvent(ev)
		}
		return nil
	})

	// Consume: single reader of the buffer, single caller of the segmenter.
	dispatchG.Go(func() error {
		for {
			frame, ok := c.buffer.Pop()
			if !ok {
				break
			}
			if seg := c.segmenter.Process(frame); seg != nil {
				c.dispatch(seg)
			}
		}
		// Trailing audio seals on stream close, even when short.
		if seg := c.segmenter.Close(); seg != nil {
			c.dispatch(seg)
		}
		return nil
	})

	// Result joins: each worker's completion stream feeds the assembler
	// independently; ordering is reconciled on insert.
	resultG.Go(func() error {
		for r := range c.sttWorker.Results() {
			c.assembler.AddTranscription(r)
		}
		return nil
	})
	resultG.Go(func() error {
		for r := range c.diaWorker.Results() {
			c.assembler.AddDiarization(r)
		}
		return nil
	})

	// External stop maps to an orderly connector leave.
	go func() {
		select {
		case <-ctx.Done():
			c.Stop()
		case <-c.stopChan:
		}
	}()

	drainErr := c.drain(&dispatchG, &resultG, cancelWorkers)
	close(expireDone)

	c.setState(StateClosed)

	snap := c.assembler.Snapshot()
	log.Info().
		Str("session_id", c.sessionID).
		Int("entries", len(snap.Entries)).
		Uint64("segments_sealed", c.sealedCount.Load()).
		Uint64("frames_dropped", c.buffer.Dropped()).
		Msg("Session closed")

	if drainErr != nil {
		if c.sealedCount.Load() == 0 {
			return snap, fmt.Errorf("%w: %v", ErrEmptySession, drainErr)
		}
		return snap, drainErr
	}
	return snap, nil
}

// drain waits for the dispatch path to empty, stops the workers within the
// drain bound, and forces any still-pending segments to a terminal state.
func (c *Coordinator) drain(dispatchG, resultG *errgroup.Group, cancelWorkers context.CancelFunc) error {
	// The ingest and consume goroutines exit once the connector closes its
	// frame stream (naturally or via Stop/Leave); the trailing segment has
	// been dispatched by then and the worker queues can be closed.
	werr := dispatchG.Wait()
	c.setState(StateDraining)

	// Past the grace period, in-flight backend calls are cancelled and
	// surface as degraded results rather than holding the session open.
	graceTimer := time.AfterFunc(c.cfg.DrainTimeout, func() {
		log.Warn().
			Str("session_id", c.sessionID).
			Dur("drain_timeout", c.cfg.DrainTimeout).
			Msg("Drain timeout exceeded, cancelling in-flight backend calls")
		cancelWorkers()
	})
	defer graceTimer.Stop()

	c.sttWorker.Stop()
	c.diaWorker.Stop()
	if err := resultG.Wait(); err != nil && werr == nil {
		werr = err
	}

	c.assembler.FinalizeAll()
	return errors.Join(werr, c.fatalErr)
}

func (c *Coordinator) dispatch(seg *audio.Segment) {
	c.assembler.TrackSegment(seg)
	if seg.Discardable {
		return
	}
	c.sealedCount.Add(1)

	if err := c.sttWorker.Enqueue(seg); err != nil {
		log.Error().Err(err).Uint64("segment_id", seg.ID).Msg("Failed to enqueue segment for transcription")
	}
	if err := c.diaWorker.Enqueue(seg); err != nil {
		log.Error().Err(err).Uint64("segment_id", seg.ID).Msg("Failed to enqueue segment for diarization")
	}
}

func (c *Coordinator) handleEvent(ev connector.Event) {
	switch ev.Kind {
	case connector.EventDisconnected:
		log.Warn().Str("session_id", c.sessionID).Msg("Connector disconnected, awaiting reconnect")
		if c.State() == StateStreaming {
			c.setState(StateReconnecting)
		}
	case connector.EventReconnected:
		// Transcript and assembler state survive the gap; the marker
		// records the discontinuity between pre- and post-reconnect speech.
		c.assembler.AddGapMarker(ev.At)
		if c.State() == StateReconnecting {
			c.setState(StateStreaming)
		}
	case connector.EventStreamEnded:
		log.Info().Str("session_id", c.sessionID).Msg("Connector stream ended")
	case connector.EventFatal:
		log.Error().Str("session_id", c.sessionID).Err(ev.Err).Msg("Fatal connector error")
		c.fatalErr = fmt.Errorf("fatal connector error: %w", ev.Err)
	}
}

// expireLoop periodically forces finalization of segments stuck past the
// completion timeout.
func (c *Coordinator) expireLoop(done <-chan struct{}) {
	interval := c.cfg.SegmentTimeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.assembler.ExpireStale(); n > 0 {
				log.Warn().
					Str("session_id", c.sessionID).
					Int("segments", n).
					Msg("Force-finalized timed-out segments")
			}
		case <-done:
			return
		}
	}
}
