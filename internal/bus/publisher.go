package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/cozmo/vocal-input/internal/observability"
)

// Publisher sends a payload to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Topics used for outbound events
type Topics struct {
	WakeWord   string
	Transcript string
}

// EventPublisher encodes outbound events and publishes them
type EventPublisher struct {
	pub    Publisher
	topics Topics
}

// NewEventPublisher creates an event publisher over pub
func NewEventPublisher(pub Publisher, topics Topics) *EventPublisher {
	return &EventPublisher{pub: pub, topics: topics}
}

// PublishWakeWord announces a detection at time at
func (p *EventPublisher) PublishWakeWord(ctx context.Context, connectionID string, at time.Time) error {
	return p.publish(ctx, p.topics.WakeWord, Event{
		Event:        EventWakeWordDetected,
		Stamp:        Stamp(at),
		ConnectionID: connectionID,
	})
}

// PublishTranscript announces transcribed text stamped with finalizedAt
func (p *EventPublisher) PublishTranscript(ctx context.Context, text string, finalizedAt time.Time) error {
	return p.publish(ctx, p.topics.Transcript, Event{
		Event: EventSpeechTranscribed,
		Text:  text,
		Stamp: Stamp(finalizedAt),
	})
}

func (p *EventPublisher) publish(ctx context.Context, topic string, ev Event) error {
	payload, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Event, err)
	}
	err = p.pub.Publish(ctx, topic, payload)
	observability.RecordPublish(ev.Event, err == nil)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Event, err)
	}
	return nil
}
