package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cozmo/vocal-input/internal/audio"
	"github.com/cozmo/vocal-input/internal/observability"
	"github.com/cozmo/vocal-input/internal/session"
	"github.com/cozmo/vocal-input/internal/wakeword"
)

// HandlerConfig wires the per-connection pipeline
type HandlerConfig struct {
	Detectors wakeword.Factory
	Session   session.Config
	Sink      session.Sink
	Events    WakeWordPublisher
	Registry  *Registry
	Logger    zerolog.Logger

	// MaxMessageBytes caps a single client message; larger ones close
	// the connection
	MaxMessageBytes int64

	// Clock overrides time.Now for tests
	Clock func() time.Time
}

// ConnectionHandler accepts audio clients and runs one Connection each
type ConnectionHandler struct {
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	// ctx is cancelled on shutdown so every Serve loop exits
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConnectionHandler creates a handler
func NewConnectionHandler(cfg HandlerConfig) *ConnectionHandler {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Detectors == nil {
		cfg.Detectors = func() (wakeword.Detector, error) {
			return wakeword.NewNullDetector(audio.DefaultFrameSize), nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionHandler{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 4 * 1024,
		},
		logger: cfg.Logger.With().Str("component", "audio_server").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Registry returns the active connection registry
func (h *ConnectionHandler) Registry() *Registry {
	return h.cfg.Registry
}

// NewConnection builds the pipeline for one client
func (h *ConnectionHandler) NewConnection(remoteAddr string) (*Connection, error) {
	detector, err := h.cfg.Detectors()
	if err != nil {
		observability.RecordError("detector_init", "wakeword")
		return nil, fmt.Errorf("create wake-word detector: %w", err)
	}

	id := uuid.New().String()
	logger := h.cfg.Logger.With().
		Str("connection_id", id).
		Str("remote_addr", remoteAddr).
		Logger()

	gate := wakeword.NewGate(detector, logger)
	gate.OnError(func(error) { observability.RecordError("detector", "wakeword") })

	conn := &Connection{
		id:          id,
		remoteAddr:  remoteAddr,
		connectedAt: h.cfg.Clock(),
		logger:      logger,
		assembler:   audio.NewFrameAssembler(gate.FrameLength()),
		gate:        gate,
		session:     session.New(h.cfg.Session, h.cfg.Sink),
		events:      h.cfg.Events,
		metrics:     observability.NewConnectionMetrics(),
		now:         h.cfg.Clock,
		commands:    make(chan Command, commandQueueSize),
		readLimit:   h.cfg.MaxMessageBytes,
	}
	return conn, nil
}

// ServeWS upgrades the request and runs the connection until it closes
func (h *ConnectionHandler) ServeWS(c *gin.Context) {
	select {
	case <-h.ctx.Done():
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.logger.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer ws.Close()

	conn, err := h.NewConnection(c.Request.RemoteAddr)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to set up connection")
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "pipeline unavailable"),
			time.Now().Add(writeWait))
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	h.cfg.Registry.Add(conn)
	defer h.cfg.Registry.Remove(conn.ID())

	conn.logger.Info().Int("frame_size", conn.assembler.FrameSamples()).Msg("Client connected")

	if err := conn.Serve(h.ctx, ws); err != nil && !errors.Is(err, context.Canceled) {
		observability.RecordError("transport", "server")
	}
}

// Shutdown closes all connections and waits for their loops to exit
func (h *ConnectionHandler) Shutdown(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
