package bus

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/cozmo/vocal-input/internal/observability"
)

// HandlerFunc handles one decoded event. Handlers run on the bus callback
// goroutine and must not block; hand work off to the owning loop instead.
type HandlerFunc func(ev Event)

// Router is a subscription table keyed by event name
type Router struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRouter creates an empty router
func NewRouter(logger zerolog.Logger) *Router {
	return &Router{
		logger:   logger.With().Str("component", "router").Logger(),
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers fn for event, replacing any previous handler
func (r *Router) Handle(event string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = fn
}

// Dispatch decodes payload and invokes the matching handler. Malformed
// payloads are logged and returned as ErrMalformedEvent; unknown events
// are ignored.
func (r *Router) Dispatch(payload []byte) error {
	ev, err := DecodeEvent(payload)
	if err != nil {
		r.logger.Error().Err(err).Bytes("payload", truncate(payload, 256)).Msg("Dropping control event")
		observability.RecordError("malformed_event", "bus")
		return err
	}

	r.mu.RLock()
	fn, ok := r.handlers[ev.Event]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug().Str("event", ev.Event).Msg("Ignoring unknown event")
		return nil
	}

	observability.RecordControlEvent(ev.Event)
	fn(ev)
	return nil
}

// HandleMessage adapts Dispatch to an MQTT subscription callback
func (r *Router) HandleMessage(_ string, payload []byte) {
	_ = r.Dispatch(payload)
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
