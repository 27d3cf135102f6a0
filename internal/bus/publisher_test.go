package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStamp_Monotonic(t *testing.T) {
	a := time.Now()
	b := a.Add(1500 * time.Millisecond)

	assert.InDelta(t, 1.5, Stamp(b)-Stamp(a), 1e-9)
	assert.GreaterOrEqual(t, Stamp(a), 0.0)
}

func TestEventPublisher_WakeWord(t *testing.T) {
	fake := newFakeClient()
	fake.connected = true
	c := newTestMQTTClient(fake)
	p := NewEventPublisher(c, Topics{WakeWord: "wake", Transcript: "transcript"})

	at := time.Now()
	require.NoError(t, p.PublishWakeWord(context.Background(), "conn-1", at))

	msgs := fake.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "wake", msgs[0].topic)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].payload, &body))
	assert.Equal(t, "wake_word_detected", body["event"])
	assert.InDelta(t, Stamp(at), body["stamp"], 1e-9)
	assert.Equal(t, "conn-1", body["connection_id"])
	assert.NotContains(t, body, "text")
}

func TestEventPublisher_Transcript(t *testing.T) {
	fake := newFakeClient()
	fake.connected = true
	c := newTestMQTTClient(fake)
	p := NewEventPublisher(c, Topics{WakeWord: "wake", Transcript: "transcript"})

	finalizedAt := time.Now().Add(-2 * time.Second)
	require.NoError(t, p.PublishTranscript(context.Background(), "bonjour cozmo", finalizedAt))

	msgs := fake.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "transcript", msgs[0].topic)

	ev, err := DecodeEvent(msgs[0].payload)
	require.NoError(t, err)
	assert.Equal(t, EventSpeechTranscribed, ev.Event)
	assert.Equal(t, "bonjour cozmo", ev.Text)
	assert.InDelta(t, Stamp(finalizedAt), ev.Stamp, 1e-9)
}

func TestEventPublisher_NotConnected(t *testing.T) {
	c := NewMQTTClient(MQTTConfig{BrokerURL: "tcp://localhost:1884"}, zerolog.Nop())
	c.client = newFakeClient()
	p := NewEventPublisher(c, Topics{WakeWord: "wake"})

	err := p.PublishWakeWord(context.Background(), "", time.Now())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEvent_EncodeAlwaysCarriesStamp(t *testing.T) {
	payload, err := Event{Event: EventWakeWordDetected}.Encode()
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(payload, &body))
	assert.Contains(t, body, "stamp")
	assert.Equal(t, 0.0, body["stamp"])
}
