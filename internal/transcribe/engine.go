// Package transcribe turns finalized utterances into text. Engines are
// interchangeable strategies; the Dispatcher runs them off the frame loop.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrEngineUnavailable is returned when no usable engine is configured
var ErrEngineUnavailable = errors.New("transcription engine unavailable")

// ErrUnsupported is returned when an engine was not compiled into this binary
var ErrUnsupported = errors.New("transcription engine not supported by this build")

// Engine converts a complete WAV container (16-bit mono PCM) into text.
// Implementations must be safe for concurrent use.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, wav []byte) (string, error)
	Close() error
}

// Options select and configure an engine
type Options struct {
	Engine string // whisper, deepgram, http or none

	WhisperModelPath string
	WhisperLanguage  string

	DeepgramAPIKey   string
	DeepgramModel    string
	DeepgramLanguage string

	HTTPEndpoint string
	HTTPAPIKey   string
	HTTPModel    string
	HTTPTimeout  time.Duration
}

// New builds the configured engine. Load failures are returned so the
// process can fail fast before accepting connections. An engine missing
// from this build falls back to NoneEngine with a warning.
func New(opts Options, logger zerolog.Logger) (Engine, error) {
	switch opts.Engine {
	case "whisper":
		engine, err := NewWhisperEngine(opts.WhisperModelPath, opts.WhisperLanguage, logger)
		if errors.Is(err, ErrUnsupported) {
			logger.Warn().
				Str("engine", opts.Engine).
				Msg("Transcription engine not compiled in (build with -tags whisper_cpp), transcription disabled")
			return NoneEngine{}, nil
		}
		return engine, err
	case "deepgram":
		return NewDeepgramEngine(opts.DeepgramAPIKey, opts.DeepgramModel, opts.DeepgramLanguage, logger)
	case "http":
		return NewHTTPEngine(HTTPConfig{
			Endpoint: opts.HTTPEndpoint,
			APIKey:   opts.HTTPAPIKey,
			Model:    opts.HTTPModel,
			Timeout:  opts.HTTPTimeout,
		})
	case "", "none":
		return NoneEngine{}, nil
	default:
		return nil, fmt.Errorf("unknown transcription engine %q", opts.Engine)
	}
}

// NoneEngine rejects every request; utterances are segmented but never
// transcribed.
type NoneEngine struct{}

func (NoneEngine) Name() string { return "none" }
func (NoneEngine) Close() error { return nil }

func (NoneEngine) Transcribe(context.Context, []byte) (string, error) {
	return "", ErrEngineUnavailable
}
