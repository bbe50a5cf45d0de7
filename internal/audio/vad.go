package audio

import (
	"math"

	"github.com/maxhawkins/go-webrtcvad"
)

// WebRTCVAD implements VAD for the segmenter's boundary detection. Frames too
// short for the WebRTC detector, and detector errors, fall back to an RMS
// energy check so segmentation never stalls on a bad frame.
type WebRTCVAD struct {
	vad          *webrtcvad.VAD
	rmsThreshold float64
}

func NewWebRTCVAD() (*WebRTCVAD, error) {
	vad, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}

	// Aggressiveness 0-3. Mode 2 trades a few false positives for not
	// cutting utterances apart mid-word.
	vad.SetMode(2)

	return &WebRTCVAD{
		vad:          vad,
		rmsThreshold: 500.0,
	}, nil
}

func (v *WebRTCVAD) IsSpeech(pcm []int16, sampleRate int) bool {
	buf := pcmToBytes(pcm)

	// The detector wants at least a 10ms window.
	if len(buf) < 320 {
		return v.rmsIsSpeech(pcm)
	}

	isSpeech, err := v.vad.Process(sampleRate, buf)
	if err != nil {
		return v.rmsIsSpeech(pcm)
	}
	return isSpeech
}

func (v *WebRTCVAD) rmsIsSpeech(pcm []int16) bool {
	if len(pcm) == 0 {
		return false
	}

	var sum float64
	for _, sample := range pcm {
		sum += float64(sample) * float64(sample)
	}

	rms := math.Sqrt(sum / float64(len(pcm)))
	return rms > v.rmsThreshold
}

func (v *WebRTCVAD) Close() error {
	// The underlying detector frees itself via finalizer; nothing to release.
	v.vad = nil
	return nil
}

func pcmToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, sample := range samples {
		buf[i*2] = byte(sample)
		buf[i*2+1] = byte(sample >> 8)
	}
	return buf
}
