package audio

// BytesPerSample is the width of one 16-bit PCM sample
const BytesPerSample = 2

// DefaultFrameSize is the frame length used when no detector dictates one
const DefaultFrameSize = 512

// Frame is a fixed-length run of signed 16-bit samples
type Frame []int16

// FrameAssembler reassembles arbitrarily sized transport chunks into
// fixed-length frames. It owns a residue buffer that persists across
// calls for the life of a connection and is not safe for concurrent use.
type FrameAssembler struct {
	frameSamples int
	frameBytes   int
	residue      []byte
}

// NewFrameAssembler creates an assembler emitting frames of frameSamples samples
func NewFrameAssembler(frameSamples int) *FrameAssembler {
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSize
	}
	return &FrameAssembler{
		frameSamples: frameSamples,
		frameBytes:   frameSamples * BytesPerSample,
		residue:      make([]byte, 0, frameSamples*BytesPerSample*2),
	}
}

// Push appends chunk to the residue and returns every complete frame that
// can be sliced off, in arrival order. Partial data stays in the residue.
func (a *FrameAssembler) Push(chunk []byte) []Frame {
	a.residue = append(a.residue, chunk...)
	if len(a.residue) < a.frameBytes {
		return nil
	}

	frames := make([]Frame, 0, len(a.residue)/a.frameBytes)
	offset := 0
	for len(a.residue)-offset >= a.frameBytes {
		frames = append(frames, Frame(DecodePCM16LE(a.residue[offset:offset+a.frameBytes])))
		offset += a.frameBytes
	}

	// Shift the tail down so the backing array does not grow without bound
	n := copy(a.residue, a.residue[offset:])
	a.residue = a.residue[:n]

	return frames
}

// Residue returns the number of buffered bytes not yet emitted as a frame
func (a *FrameAssembler) Residue() int {
	return len(a.residue)
}

// FrameBytes returns the size of one frame in bytes
func (a *FrameAssembler) FrameBytes() int {
	return a.frameBytes
}

// FrameSamples returns the size of one frame in samples
func (a *FrameAssembler) FrameSamples() int {
	return a.frameSamples
}

// Reset discards the residue
func (a *FrameAssembler) Reset() {
	a.residue = a.residue[:0]
}
