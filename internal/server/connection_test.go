package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cozmo/vocal-input/internal/audio"
	"github.com/cozmo/vocal-input/internal/session"
	"github.com/cozmo/vocal-input/internal/wakeword"
)

const wakeMarker = int16(12345)

// markerDetector fires on frames whose first sample is wakeMarker
type markerDetector struct {
	frameLength int
	fail        bool
}

func (d *markerDetector) Name() string     { return "marker" }
func (d *markerDetector) FrameLength() int { return d.frameLength }
func (d *markerDetector) Close() error     { return nil }

func (d *markerDetector) Process(frame audio.Frame) (int, error) {
	if d.fail {
		return wakeword.NoMatch, errors.New("detector broken")
	}
	if len(frame) > 0 && frame[0] == wakeMarker {
		return 0, nil
	}
	return wakeword.NoMatch, nil
}

type wakeEvent struct {
	connectionID string
	at           time.Time
}

type recordingEvents struct {
	mu    sync.Mutex
	wakes []wakeEvent
}

func (r *recordingEvents) PublishWakeWord(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakes = append(r.wakes, wakeEvent{connectionID: id, at: at})
	return nil
}

func (r *recordingEvents) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.wakes)
}

type recordingSink struct {
	mu         sync.Mutex
	utterances []session.Utterance
}

func (r *recordingSink) Dispatch(u session.Utterance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.utterances = append(r.utterances, u)
}

func (r *recordingSink) all() []session.Utterance {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Utterance(nil), r.utterances...)
}

// stepClock advances by step on every call
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

type fixture struct {
	handler *ConnectionHandler
	events  *recordingEvents
	sink    *recordingSink
	clock   *stepClock
}

func newFixture(t *testing.T, detector *markerDetector) *fixture {
	t.Helper()
	f := &fixture{
		events: &recordingEvents{},
		sink:   &recordingSink{},
		clock:  &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), step: 10 * time.Millisecond},
	}
	f.handler = NewConnectionHandler(HandlerConfig{
		Detectors: func() (wakeword.Detector, error) { return detector, nil },
		Session:   session.DefaultConfig(),
		Sink:      f.sink,
		Events:    f.events,
		Logger:    zerolog.Nop(),
		Clock:     f.clock.Now,
	})
	return f
}

func pcm(frames int, frameLength int, amplitude int16) []byte {
	samples := make([]int16, frames*frameLength)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	return audio.EncodePCM16LE(samples)
}

func wakeFrame(frameLength int) []byte {
	samples := make([]int16, frameLength)
	samples[0] = wakeMarker
	return audio.EncodePCM16LE(samples)
}

func TestConnection_FrameSizeFollowsDetector(t *testing.T) {
	f := newFixture(t, &markerDetector{frameLength: 160})
	conn, err := f.handler.NewConnection("127.0.0.1:5000")
	require.NoError(t, err)

	assert.Equal(t, 160, conn.assembler.FrameSamples())

	conn.HandleChunk(make([]byte, 300))
	assert.Equal(t, int64(0), conn.Info().Frames)
	conn.HandleChunk(make([]byte, 20))
	assert.Equal(t, int64(1), conn.Info().Frames)
	assert.Equal(t, 0, conn.assembler.Residue())
}

func TestConnection_WakeWordInBothStates(t *testing.T) {
	f := newFixture(t, &markerDetector{frameLength: 512})
	conn, err := f.handler.NewConnection("127.0.0.1:5000")
	require.NoError(t, err)

	conn.HandleChunk(wakeFrame(512))
	assert.Equal(t, 1, f.events.count())
	assert.Equal(t, session.Idle, conn.session.State(), "wake word does not open listening")

	conn.Apply(CommandStartListening)
	conn.HandleChunk(wakeFrame(512))
	assert.Equal(t, 2, f.events.count())
	assert.Equal(t, session.Listening, conn.session.State(), "wake word does not close listening")
	assert.Equal(t, conn.ID(), f.events.wakes[1].connectionID)
}

func TestConnection_ChunkSplitWakeWord(t *testing.T) {
	f := newFixture(t, &markerDetector{frameLength: 512})
	conn, err := f.handler.NewConnection("127.0.0.1:5000")
	require.NoError(t, err)

	frame := wakeFrame(512)
	conn.HandleChunk(frame[:1])
	conn.HandleChunk(frame[1:700])
	conn.HandleChunk(frame[700:])

	assert.Equal(t, 1, f.events.count())
}

func TestConnection_StartThenStopDispatches(t *testing.T) {
	f := newFixture(t, &markerDetector{frameLength: 512})
	conn, err := f.handler.NewConnection("127.0.0.1:5000")
	require.NoError(t, err)

	conn.Apply(CommandStartListening)
	conn.HandleChunk(pcm(3, 512, 4000))
	conn.Apply(CommandStopListening)

	utterances := f.sink.all()
	require.Len(t, utterances, 1)
	assert.Len(t, utterances[0].Samples, 3*512)
	assert.Equal(t, session.FinalizedStopped, utterances[0].Reason)
	assert.Equal(t, "idle", conn.Info().State)
}

func TestConnection_SilenceEndsUtterance(t *testing.T) {
	f := newFixture(t, &markerDetector{frameLength: 512})
	f.clock.step = 100 * time.Millisecond
	conn, err := f.handler.NewConnection("127.0.0.1:5000")
	require.NoError(t, err)

	conn.Apply(CommandStartListening)
	conn.HandleChunk(pcm(5, 512, 4000))
	conn.HandleChunk(pcm(20, 512, 5))

	utterances := f.sink.all()
	require.Len(t, utterances, 1)
	assert.Equal(t, session.FinalizedSilence, utterances[0].Reason)
	assert.Equal(t, session.Idle, conn.session.State())
}

func TestConnection_IdleAudioNotCaptured(t *testing.T) {
	f := newFixture(t, &markerDetector{frameLength: 512})
	conn, err := f.handler.NewConnection("127.0.0.1:5000")
	require.NoError(t, err)

	conn.HandleChunk(pcm(50, 512, 4000))
	conn.Apply(CommandStopListening)

	assert.Empty(t, f.sink.all())
}

func TestConnection_DetectorFailureKeepsPipelineRunning(t *testing.T) {
	f := newFixture(t, &markerDetector{frameLength: 512, fail: true})
	conn, err := f.handler.NewConnection("127.0.0.1:5000")
	require.NoError(t, err)

	conn.Apply(CommandStartListening)
	conn.HandleChunk(wakeFrame(512))
	conn.HandleChunk(pcm(2, 512, 4000))
	conn.Apply(CommandStopListening)

	assert.Zero(t, f.events.count())
	require.Len(t, f.sink.all(), 1)
	assert.Len(t, f.sink.all()[0].Samples, 3*512)
}

func TestConnection_CloseDropsPartialUtterance(t *testing.T) {
	f := newFixture(t, &markerDetector{frameLength: 512})
	conn, err := f.handler.NewConnection("127.0.0.1:5000")
	require.NoError(t, err)

	conn.Apply(CommandStartListening)
	conn.HandleChunk(pcm(3, 512, 4000))
	conn.HandleChunk(make([]byte, 100))
	conn.close()

	assert.Empty(t, f.sink.all())
	assert.Equal(t, session.Idle, conn.session.State())
	assert.Zero(t, conn.assembler.Residue())
}

func TestConnection_SendNeverBlocks(t *testing.T) {
	f := newFixture(t, &markerDetector{frameLength: 512})
	conn, err := f.handler.NewConnection("127.0.0.1:5000")
	require.NoError(t, err)

	for i := 0; i < commandQueueSize; i++ {
		require.True(t, conn.Send(CommandStartListening))
	}
	assert.False(t, conn.Send(CommandStartListening))
}

func TestConnection_DetectorFactoryError(t *testing.T) {
	h := NewConnectionHandler(HandlerConfig{
		Detectors: func() (wakeword.Detector, error) { return nil, errors.New("model missing") },
		Logger:    zerolog.Nop(),
	})

	_, err := h.NewConnection("127.0.0.1:5000")
	assert.ErrorContains(t, err, "model missing")
}
