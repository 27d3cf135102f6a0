package server

import (
	"github.com/rs/zerolog"

	"github.com/cozmo/vocal-input/internal/bus"
)

// RegisterControlHandlers routes listening commands from the bus to the
// registry. Events naming a connection_id reach only that connection;
// otherwise every connection receives them.
func RegisterControlHandlers(router *bus.Router, registry *Registry, logger zerolog.Logger) {
	route := func(cmd Command) bus.HandlerFunc {
		return func(ev bus.Event) {
			if ev.ConnectionID != "" {
				if !registry.Target(ev.ConnectionID, cmd) {
					logger.Warn().
						Str("connection_id", ev.ConnectionID).
						Stringer("command", cmd).
						Msg("Control event for unknown connection")
				}
				return
			}

			n := registry.Broadcast(cmd)
			logger.Debug().Stringer("command", cmd).Int("connections", n).Msg("Control event broadcast")
		}
	}

	router.Handle(bus.EventStartListening, route(CommandStartListening))
	router.Handle(bus.EventStopListening, route(CommandStopListening))
}
