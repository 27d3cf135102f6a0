package audio

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func concatFrames(frames []Frame) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, EncodePCM16LE(f)...)
	}
	return out
}

func TestFrameAssembler_ScenarioChunks(t *testing.T) {
	a := NewFrameAssembler(256) // 512 bytes per frame

	var frames []Frame
	for _, size := range []int{300, 600, 124} {
		frames = append(frames, a.Push(make([]byte, size))...)
	}

	assert.Len(t, frames, 2)
	assert.Equal(t, 0, a.Residue())
}

func TestFrameAssembler_PartialNeverEmitted(t *testing.T) {
	a := NewFrameAssembler(512)

	frames := a.Push(make([]byte, 1023))
	assert.Empty(t, frames)
	assert.Equal(t, 1023, a.Residue())

	frames = a.Push([]byte{0x01})
	require.Len(t, frames, 1)
	assert.Len(t, frames[0], 512)
	assert.Equal(t, 0, a.Residue())
}

func TestFrameAssembler_ChunkBoundaryIndependence(t *testing.T) {
	const frameSamples = 160
	frameBytes := frameSamples * BytesPerSample

	rng := rand.New(rand.NewSource(42))
	input := make([]byte, frameBytes*37)
	rng.Read(input)

	for trial := 0; trial < 20; trial++ {
		a := NewFrameAssembler(frameSamples)
		var frames []Frame

		remaining := input
		for len(remaining) > 0 {
			n := 1 + rng.Intn(3*frameBytes)
			if n > len(remaining) {
				n = len(remaining)
			}
			frames = append(frames, a.Push(remaining[:n])...)
			remaining = remaining[n:]

			assert.Less(t, a.Residue(), frameBytes, "residue must stay below one frame")
		}

		require.Len(t, frames, 37)
		for _, f := range frames {
			assert.Len(t, f, frameSamples)
		}
		assert.True(t, bytes.Equal(input, concatFrames(frames)), "frames must reproduce the input in order")
	}
}

func TestFrameAssembler_OddByteChunks(t *testing.T) {
	a := NewFrameAssembler(2)

	// 0x0201 and 0x0403 split across odd-sized chunks
	frames := a.Push([]byte{0x01})
	frames = append(frames, a.Push([]byte{0x02, 0x03})...)
	frames = append(frames, a.Push([]byte{0x04, 0x05})...)

	require.Len(t, frames, 1)
	assert.Equal(t, Frame{0x0201, 0x0403}, frames[0])
	assert.Equal(t, 1, a.Residue())
}

func TestFrameAssembler_Reset(t *testing.T) {
	a := NewFrameAssembler(512)
	a.Push(make([]byte, 700))
	require.Equal(t, 700, a.Residue())

	a.Reset()
	assert.Equal(t, 0, a.Residue())
}

func TestFrameAssembler_DefaultFrameSize(t *testing.T) {
	a := NewFrameAssembler(0)
	assert.Equal(t, DefaultFrameSize, a.FrameSamples())
	assert.Equal(t, DefaultFrameSize*BytesPerSample, a.FrameBytes())
}
