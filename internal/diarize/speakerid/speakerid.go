// Package speakerid calls a hosted speaker-recognition service over HTTP.
// The service receives segment audio as WAV and answers with a stable
// speaker-cluster label for the session.
package speakerid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/user/meetscribe/internal/audio"
	"github.com/user/meetscribe/internal/backend"
	"github.com/user/meetscribe/internal/diarize"
)

type Recognizer struct {
	baseURL   string
	apiKey    string
	sessionID string
	client    *http.Client
}

type response struct {
	Speaker    string  `json:"speaker"`
	Confidence float64 `json:"confidence"`
}

func NewRecognizer(baseURL, apiKey, sessionID string) *Recognizer {
	return &Recognizer{
		baseURL:   baseURL,
		apiKey:    apiKey,
		sessionID: sessionID,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *Recognizer) Identify(ctx context.Context, seg *audio.Segment) (*diarize.Result, error) {
	if len(seg.PCM) == 0 {
		return diarize.Degraded(seg.ID), nil
	}

	wavData := audio.EncodeWAV(seg.PCM, audio.SampleRate)

	url := r.baseURL + "/v1/identify?session=" + r.sessionID

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(wavData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+r.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, backend.Transient(fmt.Errorf("speaker-id request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, backend.Transient(fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		log.Warn().
			Int("status_code", resp.StatusCode).
			Str("response_body", string(body)).
			Uint64("segment_id", seg.ID).
			Msg("Speaker-id API error response")
		err := fmt.Errorf("speaker-id API error %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, backend.Transient(err)
		}
		return nil, err
	}

	var result response
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if result.Speaker == "" {
		result.Speaker = diarize.UnknownSpeaker
	}

	log.Debug().
		Uint64("segment_id", seg.ID).
		Str("speaker", result.Speaker).
		Float64("confidence", result.Confidence).
		Msg("Speaker identified")

	return &diarize.Result{
		SegmentID:  seg.ID,
		Speaker:    result.Speaker,
		Confidence: result.Confidence,
	}, nil
}

func (r *Recognizer) Close() error {
	return nil
}
