package audio

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAV_Header(t *testing.T) {
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(i % 200)
	}

	data, err := EncodeWAV(samples, 16000)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(data), 44)
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint32(len(data)-8), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[22:24]), "mono")
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(data[34:36]), "16-bit")
	assert.Equal(t, 44+len(samples)*2, len(data))
}

func TestEncodeWAV_Empty(t *testing.T) {
	_, err := EncodeWAV(nil, 16000)
	assert.Error(t, err)
}

func TestDecodeWAVToFloat32(t *testing.T) {
	samples := []int16{0, 16384, -16384, 32767, -32768}
	data, err := EncodeWAV(samples, 16000)
	require.NoError(t, err)

	decoded, rate, err := DecodeWAVToFloat32(data)
	require.NoError(t, err)

	assert.Equal(t, 16000, rate)
	require.Len(t, decoded, len(samples))
	assert.InDelta(t, 0.5, decoded[1], 1e-4)
	assert.InDelta(t, -0.5, decoded[2], 1e-4)
	assert.InDelta(t, -1.0, decoded[4], 1e-4)
}

func TestDecodeWAVToFloat32_Invalid(t *testing.T) {
	_, _, err := DecodeWAVToFloat32([]byte("definitely not a wav file"))
	assert.Error(t, err)
}

func TestSeekBuffer_PatchHeader(t *testing.T) {
	var b seekBuffer
	_, _ = b.Write([]byte("abcdef"))
	_, err := b.Seek(2, 0)
	require.NoError(t, err)
	_, _ = b.Write([]byte("XY"))

	assert.Equal(t, "abXYef", string(b.Bytes()))
}
