//go:build !whisper_cpp

package transcribe

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWhisperEngine_NotCompiledIn(t *testing.T) {
	_, err := NewWhisperEngine("models/ggml-base.bin", "auto", zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestNew_WhisperFallsBackToNone(t *testing.T) {
	engine, err := New(Options{Engine: "whisper", WhisperModelPath: "models/ggml-base.bin"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "none", engine.Name())
	assert.IsType(t, NoneEngine{}, engine)
}
