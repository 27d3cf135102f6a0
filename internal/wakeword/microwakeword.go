//go:build microwakeword

package wakeword

import (
	"fmt"

	"github.com/pmdroid/microwakeword"

	"github.com/cozmo/vocal-input/internal/audio"
)

// microWakeWord models consume 10ms windows at 16kHz
const modelFrameLength = 160

type streamingModel interface {
	ProcessStreaming(pcm []byte) (bool, error)
}

// ModelDetector runs a builtin microWakeWord model over 16kHz mono PCM
type ModelDetector struct {
	name  string
	model streamingModel
}

func newModelDetector(name string) (Detector, error) {
	model, err := microwakeword.FromBuiltin(name, microwakeword.DefaultRefractory)
	if err != nil {
		return nil, fmt.Errorf("load builtin model: %w", err)
	}
	return &ModelDetector{name: name, model: model}, nil
}

func (d *ModelDetector) Name() string     { return "microwakeword" }
func (d *ModelDetector) FrameLength() int { return modelFrameLength }

// Process feeds one frame to the streaming model. Only one keyword is
// loaded per detector so a match is always index 0.
func (d *ModelDetector) Process(frame audio.Frame) (int, error) {
	detected, err := d.model.ProcessStreaming(audio.EncodePCM16LE(frame))
	if err != nil {
		return NoMatch, err
	}
	if detected {
		return 0, nil
	}
	return NoMatch, nil
}

func (d *ModelDetector) Close() error { return nil }
