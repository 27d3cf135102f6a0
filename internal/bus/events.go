// Package bus carries control and notification events over MQTT.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event names
const (
	EventWakeWordDetected  = "wake_word_detected"
	EventSpeechTranscribed = "speech_transcribed"
	EventStartListening    = "start_listening"
	EventStopListening     = "stop_listening"
)

// ErrMalformedEvent is returned for payloads that are not a JSON event object
var ErrMalformedEvent = errors.New("malformed event")

// Event is the JSON envelope used on every topic
type Event struct {
	Event        string  `json:"event"`
	Text         string  `json:"text,omitempty"`
	Stamp        float64 `json:"stamp"`
	ConnectionID string  `json:"connection_id,omitempty"`
}

var processStart = time.Now()

// Stamp converts t to monotonic seconds since process start. Wall clock
// adjustments do not affect it as long as t came from time.Now.
func Stamp(t time.Time) float64 {
	return t.Sub(processStart).Seconds()
}

// DecodeEvent parses a payload. Anything other than a JSON object with a
// string "event" field is ErrMalformedEvent.
func DecodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.Event == "" {
		return Event{}, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}
	return ev, nil
}

// Encode marshals the event
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
