//go:build whisper_cpp

package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	whisperpkg "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"github.com/rs/zerolog"

	"github.com/cozmo/vocal-input/internal/audio"
)

const whisperSampleRate = 16000

// WhisperEngine runs a local whisper.cpp model
type WhisperEngine struct {
	model    whisperpkg.Model
	threads  uint
	language string
	logger   zerolog.Logger
	mu       sync.Mutex // whisper.cpp contexts are not safe to run concurrently on one model
}

// NewWhisperEngine loads the model at modelPath
func NewWhisperEngine(modelPath, language string, logger zerolog.Logger) (Engine, error) {
	if language == "" {
		language = "auto"
	}

	m, err := whisperpkg.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load whisper model: %w", err)
	}

	logger = logger.With().Str("component", "whisper").Logger()
	logger.Info().Str("model", modelPath).Str("language", language).Msg("Whisper model loaded")

	return &WhisperEngine{
		model:    m,
		threads:  uint(runtime.NumCPU()),
		language: language,
		logger:   logger,
	}, nil
}

func (e *WhisperEngine) Name() string { return "whisper" }

func (e *WhisperEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}

// Transcribe decodes the WAV, resamples to 16kHz if needed and runs a
// full-context pass over the utterance.
func (e *WhisperEngine) Transcribe(ctx context.Context, wav []byte) (string, error) {
	samples, rate, err := audio.DecodeWAVToFloat32(wav)
	if err != nil {
		return "", err
	}
	if rate != whisperSampleRate {
		samples = audio.ResampleLinear(samples, rate, whisperSampleRate)
	}
	if len(samples) == 0 {
		return "", nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}
	wctx.SetThreads(e.threads)
	if err := wctx.SetLanguage(e.language); err != nil {
		e.logger.Warn().Err(err).Str("language", e.language).Msg("Unsupported language, using model default")
	}

	// abort between segments once the deadline passes
	encoderBegin := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, encoderBegin, nil, nil); err != nil {
		return "", fmt.Errorf("process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var segments []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			segments = append(segments, text)
		}
	}

	return strings.Join(segments, " "), nil
}
