package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/user/meetscribe/internal/audio"
	"github.com/user/meetscribe/internal/backend"
	"github.com/user/meetscribe/internal/stt"
)

const listenURL = "https://api.deepgram.com/v1/listen"

type Transcriber struct {
	apiKey    string
	model     string
	punctuate bool
	client    *http.Client
}

type apiResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word       string  `json:"word"`
					Start      float64 `json:"start"`
					End        float64 `json:"end"`
					Confidence float64 `json:"confidence"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func NewTranscriber(apiKey, model string, punctuate bool) *Transcriber {
	return &Transcriber{
		apiKey:    apiKey,
		model:     model,
		punctuate: punctuate,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (d *Transcriber) Transcribe(ctx context.Context, seg *audio.Segment) (*stt.Result, error) {
	if len(seg.PCM) == 0 {
		return &stt.Result{SegmentID: seg.ID}, nil
	}

	wavData := audio.EncodeWAV(seg.PCM, audio.SampleRate)

	params := url.Values{}
	if d.model != "" {
		params.Set("model", d.model)
	}
	params.Set("punctuate", strconv.FormatBool(d.punctuate))
	params.Set("smart_format", "true")
	params.Set("language", "en")

	fullURL := listenURL + "?" + params.Encode()

	log.Debug().
		Str("model", d.model).
		Uint64("segment_id", seg.ID).
		Int("audio_size_bytes", len(wavData)).
		Msg("Making Deepgram API request")

	req, err := http.NewRequestWithContext(ctx, "POST", fullURL, bytes.NewReader(wavData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+d.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, backend.Transient(fmt.Errorf("Deepgram API request failed: %w", err))
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
			Msg("Deepgram API error response")
		err := fmt.Errorf("Deepgram API error %d: %s", resp.StatusCode, string(body))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, backend.Transient(err)
		}
		return nil, err
	}

	var result apiResponse
	if err := json.Unmarshal(body, &result); err != nil {
		log.Warn().
			Str("response_body", string(body)).
			Msg("Failed to parse Deepgram response")
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	out := &stt.Result{SegmentID: seg.ID}
	if len(result.Results.Channels) == 0 {
		return out, nil
	}

	// Usually a single alternative; take the best one.
	for _, alt := range result.Results.Channels[0].Alternatives {
		if alt.Transcript == "" {
			continue
		}
		out.Text = alt.Transcript
		out.Confidence = alt.Confidence
		for _, wd := range alt.Words {
			out.Words = append(out.Words, stt.Word{
				Word:       wd.Word,
				Start:      time.Duration(wd.Start * float64(time.Second)),
				End:        time.Duration(wd.End * float64(time.Second)),
				Confidence: wd.Confidence,
			})
		}
		break
	}

	log.Debug().
		Uint64("segment_id", seg.ID).
		Str("transcript", out.Text).
		Float64("confidence", out.Confidence).
		Msg("Deepgram transcription completed")

	return out, nil
}

func (d *Transcriber) Close() error {
	return nil
}
