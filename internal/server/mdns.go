package server

import (
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

// MDNSService is the DNS-SD service type advertised for audio clients
const MDNSService = "_vocal-input._tcp"

// Advertise registers the audio endpoint over mDNS so microphone clients
// can find it without configuration. Call Shutdown on the returned server.
func Advertise(instance string, port int, audioPath string, logger zerolog.Logger) (*zeroconf.Server, error) {
	txt := []string{
		"path=" + audioPath,
		"format=pcm_s16le",
		"rate=16000",
		"channels=1",
	}

	srv, err := zeroconf.Register(instance, MDNSService, "local.", port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}

	logger.Info().
		Str("instance", instance).
		Str("service", MDNSService).
		Int("port", port).
		Msg("Advertising audio endpoint over mDNS")
	return srv, nil
}
