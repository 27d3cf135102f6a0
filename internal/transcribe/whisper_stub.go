//go:build !whisper_cpp

package transcribe

import (
	"fmt"

	"github.com/rs/zerolog"
)

// NewWhisperEngine fails without cgo bindings; build with -tags whisper_cpp
func NewWhisperEngine(modelPath, language string, logger zerolog.Logger) (Engine, error) {
	return nil, fmt.Errorf("whisper: %w", ErrUnsupported)
}
