package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// Voice-gateway audio parameters. Connectors deliver 20ms opus packets; the
// whole pipeline operates on mono PCM at this rate.
const (
	SampleRate = 48000
	Channels   = 1   // Mono
	FrameSize  = 960 // 20ms at 48kHz
)

// OpusDecoder implements Decoder over the opus packets meeting connectors
// receive from the voice gateway. Not safe for concurrent use; each connector
// owns its own decoder.
type OpusDecoder struct {
	decoder *gopus.Decoder
}

func NewOpusDecoder() (*OpusDecoder, error) {
	decoder, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{decoder: decoder}, nil
}

func (d *OpusDecoder) Decode(opus []byte) ([]int16, error) {
	// Comfort-noise frames decode to a full frame of silence so the
	// segmenter's gap clock keeps advancing.
	if len(opus) == 3 && opus[0] == 0xF8 && opus[1] == 0xFF && opus[2] == 0xFE {
		return make([]int16, FrameSize), nil
	}

	pcm, err := d.decoder.Decode(opus, FrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("failed to decode opus: %w", err)
	}

	return pcm, nil
}

func (d *OpusDecoder) Close() {
	// gopus decoder doesn't require explicit cleanup
}
