// Package wakeword gates audio frames through a keyword spotter.
// Detection is optional: without a model the NullDetector is used and the
// gate never fires.
package wakeword

import (
	"errors"

	"github.com/cozmo/vocal-input/internal/audio"
)

// NoMatch is returned by Detector.Process when no keyword is present
const NoMatch = -1

// ErrUnsupported is returned when a detector engine was not compiled in
var ErrUnsupported = errors.New("wake-word engine not supported by this build")

// Detector is a keyword spotter consuming fixed-length frames
type Detector interface {
	// Name identifies the engine in logs and metrics
	Name() string

	// FrameLength is the number of samples Process expects
	FrameLength() int

	// Process returns the index of the detected keyword, or NoMatch
	Process(frame audio.Frame) (int, error)

	Close() error
}

// NullDetector never detects anything
type NullDetector struct {
	frameLength int
}

// NewNullDetector creates a detector that accepts frames of frameLength samples
func NewNullDetector(frameLength int) *NullDetector {
	if frameLength <= 0 {
		frameLength = audio.DefaultFrameSize
	}
	return &NullDetector{frameLength: frameLength}
}

func (d *NullDetector) Name() string                     { return "none" }
func (d *NullDetector) FrameLength() int                 { return d.frameLength }
func (d *NullDetector) Process(audio.Frame) (int, error) { return NoMatch, nil }
func (d *NullDetector) Close() error                     { return nil }
