package wakeword

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Factory builds one Detector per connection. Streaming detectors keep
// internal state across frames, so instances are never shared.
type Factory func() (Detector, error)

// Options select and configure the detector engine
type Options struct {
	Engine      string // "none" or "microwakeword"
	Model       string // builtin model name
	FrameLength int    // frame size for the null detector
}

// NewFactory resolves the configured engine once at startup. When the
// engine is not compiled into this binary it falls back to NullDetector
// and logs a warning; unknown engine names are an error.
func NewFactory(opts Options, logger zerolog.Logger) (Factory, error) {
	null := func() (Detector, error) { return NewNullDetector(opts.FrameLength), nil }

	switch opts.Engine {
	case "", "none":
		return null, nil

	case "microwakeword":
		// probe once so a missing model fails fast
		probe, err := newModelDetector(opts.Model)
		if errors.Is(err, ErrUnsupported) {
			logger.Warn().
				Str("engine", opts.Engine).
				Msg("Wake-word engine not compiled in (build with -tags microwakeword), wake-word detection disabled")
			return null, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load wake-word model %q: %w", opts.Model, err)
		}
		_ = probe.Close()

		return func() (Detector, error) {
			return newModelDetector(opts.Model)
		}, nil

	default:
		return nil, fmt.Errorf("unknown wake-word engine %q", opts.Engine)
	}
}
