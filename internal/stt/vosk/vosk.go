package vosk

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	vosk "github.com/alphacep/vosk-api/go"
	"github.com/rs/zerolog/log"
	"github.com/user/meetscribe/internal/audio"
	"github.com/user/meetscribe/internal/stt"
)

// Transcriber runs speech recognition locally through the Vosk runtime. The
// recognizer is stateful across AcceptWaveform calls, so access is
// serialized; pool parallelism above this backend degrades to sequential
// throughput, the expected trade-off for offline use.
type Transcriber struct {
	model      *vosk.VoskModel
	recognizer *vosk.VoskRecognizer
	sampleRate int
	mu         sync.Mutex
}

type voskResult struct {
	Text   string     `json:"text"`
	Result []voskWord `json:"result"`
}

type voskWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Conf  float64 `json:"conf"`
}

func NewTranscriber(modelPath string, sampleRate int) (*Transcriber, error) {
	log.Info().Str("model_path", modelPath).Msg("Loading Vosk model")

	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load Vosk model from %s: %w", modelPath, err)
	}

	recognizer, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("failed to create Vosk recognizer: %w", err)
	}
	recognizer.SetWords(1)

	log.Info().Msg("Vosk model loaded successfully")

	return &Transcriber{
		model:      model,
		recognizer: recognizer,
		sampleRate: sampleRate,
	}, nil
}

func (v *Transcriber) Transcribe(ctx context.Context, seg *audio.Segment) (*stt.Result, error) {
	if len(seg.PCM) == 0 {
		return &stt.Result{SegmentID: seg.ID}, nil
	}

	pcmBytes := make([]byte, len(seg.PCM)*2)
	for i, sample := range seg.PCM {
		pcmBytes[i*2] = byte(sample)
		pcmBytes[i*2+1] = byte(sample >> 8)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.recognizer.AcceptWaveform(pcmBytes) == -1 {
		return nil, fmt.Errorf("failed to process audio segment %d", seg.ID)
	}

	// FinalResult flushes recognizer state so segments stay independent.
	jsonResult := v.recognizer.FinalResult()
	if jsonResult == "" {
		return &stt.Result{SegmentID: seg.ID}, nil
	}

	var parsed voskResult
	if err := json.Unmarshal([]byte(jsonResult), &parsed); err != nil {
		log.Warn().
			Err(err).
			Str("json", jsonResult).
			Msg("Failed to parse Vosk result")
		return &stt.Result{SegmentID: seg.ID}, nil
	}

	out := &stt.Result{
		SegmentID: seg.ID,
		Text:      parsed.Text,
	}

	var confSum float64
	for _, wd := range parsed.Result {
		out.Words = append(out.Words, stt.Word{
			Word:       wd.Word,
			Start:      time.Duration(wd.Start * float64(time.Second)),
			End:        time.Duration(wd.End * float64(time.Second)),
			Confidence: wd.Conf,
		})
		confSum += wd.Conf
	}
	if len(parsed.Result) > 0 {
		out.Confidence = confSum / float64(len(parsed.Result))
	}

	log.Debug().
		Uint64("segment_id", seg.ID).
		Str("transcript", out.Text).
		Float64("confidence", out.Confidence).
		Msg("Vosk transcription completed")

	return out, nil
}

func (v *Transcriber) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.recognizer != nil {
		v.recognizer.Free()
		v.recognizer = nil
	}
	if v.model != nil {
		v.model.Free()
		v.model = nil
	}
	return nil
}
