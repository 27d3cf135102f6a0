package wakeword

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cozmo/vocal-input/internal/audio"
)

// Gate wraps a Detector and turns its output into a yes/no per frame.
// Detector failures are treated as "no detection" so ingestion never halts.
type Gate struct {
	detector Detector
	logger   zerolog.Logger
	onError  func(error)
}

// NewGate creates a gate over detector. A nil detector selects NullDetector.
func NewGate(detector Detector, logger zerolog.Logger) *Gate {
	if detector == nil {
		detector = NewNullDetector(audio.DefaultFrameSize)
	}
	return &Gate{
		detector: detector,
		logger:   logger.With().Str("component", "wakeword").Str("engine", detector.Name()).Logger(),
	}
}

// OnError registers a hook invoked for each detector failure
func (g *Gate) OnError(fn func(error)) {
	g.onError = fn
}

// Detect reports whether the wake word is present in frame
func (g *Gate) Detect(frame audio.Frame) (detected bool) {
	defer func() {
		if r := recover(); r != nil {
			g.fail(fmt.Errorf("detector panic: %v", r))
			detected = false
		}
	}()

	idx, err := g.detector.Process(frame)
	if err != nil {
		g.fail(err)
		return false
	}
	return idx >= 0
}

func (g *Gate) fail(err error) {
	g.logger.Warn().Err(err).Msg("Wake-word detector failed, treating frame as no match")
	if g.onError != nil {
		g.onError(err)
	}
}

// FrameLength is the frame size the underlying detector requires
func (g *Gate) FrameLength() int {
	return g.detector.FrameLength()
}

// Engine returns the detector name
func (g *Gate) Engine() string {
	return g.detector.Name()
}

// Close releases the underlying detector
func (g *Gate) Close() error {
	return g.detector.Close()
}
