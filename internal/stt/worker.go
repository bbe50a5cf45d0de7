package stt

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/user/meetscribe/internal/audio"
	"github.com/user/meetscribe/internal/backend"
)

// Worker drives a bounded pool of transcription goroutines over sealed
// segments. Output ordering follows completion, not segment order; the
// assembler reconciles ordering downstream. Every enqueued segment yields
// exactly one Result, degraded if the backend stays down.
type Worker struct {
	transcriber Transcriber
	workers     int
	retry       backend.RetryPolicy

	segChan    chan *audio.Segment
	resultChan chan *Result
	stopChan   chan struct{}
	wg         sync.WaitGroup
	started    bool
	mutex      sync.Mutex
}

func NewWorker(transcriber Transcriber, workers int, retry backend.RetryPolicy) *Worker {
	if workers < 1 {
		workers = 1
	}
	return &Worker{
		transcriber: transcriber,
		workers:     workers,
		retry:       retry,
		segChan:     make(chan *audio.Segment, workers*2),
		resultChan:  make(chan *Result, workers*2),
		stopChan:    make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.started {
		return fmt.Errorf("transcription worker already started")
	}
	w.started = true

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}

	log.Info().Int("workers", w.workers).Msg("Started transcription worker pool")
	return nil
}

func (w *Worker) run(ctx context.Context, id int) {
	defer w.wg.Done()

	for {
		select {
		case seg, ok := <-w.segChan:
			if !ok {
				return
			}
			res := w.process(ctx, seg)
			select {
			case w.resultChan <- res:
			case <-w.stopChan:
				return
			}
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, seg *audio.Segment) *Result {
	var res *Result
	err := backend.Retry(ctx, w.retry, "stt", func(ctx context.Context) error {
		r, err := w.transcriber.Transcribe(ctx, seg)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		log.Error().
			Err(err).
			Uint64("segment_id", seg.ID).
			Msg("Transcription failed, emitting degraded result")
		return Degraded(seg.ID)
	}
	if res == nil {
		res = &Result{SegmentID: seg.ID}
	}
	res.SegmentID = seg.ID
	return res
}

// Enqueue hands a sealed segment to the pool. It blocks when all workers are
// busy and the queue is full, which backpressures the frame consumer.
func (w *Worker) Enqueue(seg *audio.Segment) error {
	select {
	case w.segChan <- seg:
		return nil
	case <-w.stopChan:
		return fmt.Errorf("transcription worker stopped")
	}
}

// Results streams one Result per enqueued segment, in completion order.
func (w *Worker) Results() <-chan *Result {
	return w.resultChan
}

// Stop drains in-flight work and closes the result channel.
func (w *Worker) Stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.started {
		return
	}
	w.started = false

	close(w.segChan)
	w.wg.Wait()
	close(w.stopChan)
	close(w.resultChan)

	log.Info().Msg("Stopped transcription worker pool")
}
