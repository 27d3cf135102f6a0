package audio

import (
	"encoding/binary"
	"fmt"
)

// DecodePCM16LE reinterprets little-endian 16-bit PCM bytes as samples.
// A trailing odd byte is ignored.
func DecodePCM16LE(data []byte) []int16 {
	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// EncodePCM16LE serializes samples as little-endian 16-bit PCM
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}

// PCM16BytesToSamples is the checked variant of DecodePCM16LE used on
// inputs that must be whole samples
func PCM16BytesToSamples(data []byte) ([]int16, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty PCM data")
	}
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples)")
	}
	return DecodePCM16LE(data), nil
}

// SamplesToFloat32 normalizes 16-bit samples to [-1, 1)
func SamplesToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, sample := range samples {
		out[i] = float32(sample) / 32768.0
	}
	return out
}

// ResampleLinear resamples float PCM from inRate to outRate using linear
// interpolation. Whisper only accepts 16kHz input.
func ResampleLinear(samples []float32, inRate, outRate int) []float32 {
	if inRate <= 0 || outRate <= 0 || inRate == outRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outRate) / float64(inRate)
	outLen := int(float64(len(samples)) * ratio)
	if outLen < 1 {
		outLen = 1
	}

	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) / ratio
		i0 := int(srcPos)
		if i0 >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := float32(srcPos - float64(i0))
		out[i] = samples[i0] + (samples[i0+1]-samples[i0])*frac
	}

	return out
}
