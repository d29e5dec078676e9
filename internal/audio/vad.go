// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/rapidaai/agent-assist/pkg/utils"
)

// SilenceDetector decides whether a PCM16 chunk carries speech energy, used
// by the ASR Worker to skip all-silence chunks without risking a send-gap
// ceiling breach. It wraps silero-vad-go's ONNX-backed detector.
type SilenceDetector struct {
	detector *speech.Detector
}

// NewSilenceDetector loads the Silero VAD ONNX model from modelPath and
// configures it for the given sample rate.
func NewSilenceDetector(modelPath string, sampleRate int) (*SilenceDetector, error) {
	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           sampleRate,
		Threshold:            0.5,
		MinSilenceDurationMs: 100,
		SpeechPadMs:          30,
	})
	if err != nil {
		return nil, fmt.Errorf("audio: loading vad model: %w", err)
	}
	return &SilenceDetector{detector: detector}, nil
}

// energyFloor is the mean-absolute-amplitude threshold below which a chunk
// is silent without consulting the model at all; all-zero and near-zero
// chunks short-circuit here.
const energyFloor = 0.003

// IsSilent reports whether the PCM16 payload contains no detected speech
// segment. An empty or malformed payload is treated as silent.
func (d *SilenceDetector) IsSilent(pcm16 []byte) bool {
	samples := pcmToFloat32(pcm16)
	if len(samples) == 0 {
		return true
	}
	abs := make([]float32, len(samples))
	for i, s := range samples {
		if s < 0 {
			s = -s
		}
		abs[i] = s
	}
	if utils.AverageFloat32(abs) < energyFloor {
		return true
	}
	segments, err := d.detector.Detect(samples)
	if err != nil {
		return false
	}
	return len(segments) == 0
}

// Reset clears any internal streaming state between calls so detection for
// one callId never leaks into another.
func (d *SilenceDetector) Reset() error {
	return d.detector.Reset()
}

// Close releases the underlying ONNX session.
func (d *SilenceDetector) Close() error {
	return d.detector.Destroy()
}

func pcmToFloat32(pcm16 []byte) []float32 {
	n := len(pcm16) / BytesPerSample
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm16[i*2 : i*2+2]))
		out[i] = float32(v) / math.MaxInt16
	}
	return out
}
