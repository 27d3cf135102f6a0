package server

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/cozmo/vocal-input/internal/audio"
	"github.com/cozmo/vocal-input/internal/observability"
	"github.com/cozmo/vocal-input/internal/session"
	"github.com/cozmo/vocal-input/internal/wakeword"
)

// Command is a control-plane instruction applied inside the connection loop
type Command int

const (
	CommandStartListening Command = iota
	CommandStopListening
)

func (c Command) String() string {
	switch c {
	case CommandStartListening:
		return "start_listening"
	case CommandStopListening:
		return "stop_listening"
	default:
		return "unknown"
	}
}

// WakeWordPublisher announces wake-word detections
type WakeWordPublisher interface {
	PublishWakeWord(ctx context.Context, connectionID string, at time.Time) error
}

const (
	commandQueueSize = 8
	chunkQueueSize   = 64
	publishTimeout   = 2 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	writeWait        = 5 * time.Second

	defaultMaxMessageBytes = 1 << 20
)

// Connection owns the per-client pipeline: assembler, wake-word gate and
// listening session. Everything except Send runs on one goroutine.
type Connection struct {
	id          string
	remoteAddr  string
	connectedAt time.Time
	logger      zerolog.Logger

	assembler *audio.FrameAssembler
	gate      *wakeword.Gate
	session   *session.ListeningSession
	events    WakeWordPublisher
	metrics   *observability.ConnectionMetrics
	now       func() time.Time

	commands  chan Command
	readLimit int64

	frames atomic.Int64
	state  atomic.Int32
}

// ConnectionInfo is a snapshot for the admin API
type ConnectionInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	State       string    `json:"state"`
	Frames      int64     `json:"frames"`
	ConnectedAt time.Time `json:"connected_at"`
}

// ID returns the connection id
func (c *Connection) ID() string {
	return c.id
}

// Info returns a snapshot safe to read from any goroutine
func (c *Connection) Info() ConnectionInfo {
	return ConnectionInfo{
		ID:          c.id,
		RemoteAddr:  c.remoteAddr,
		State:       session.State(c.state.Load()).String(),
		Frames:      c.frames.Load(),
		ConnectedAt: c.connectedAt,
	}
}

// Send queues a command for the connection loop. It never blocks; a full
// queue drops the command.
func (c *Connection) Send(cmd Command) bool {
	select {
	case c.commands <- cmd:
		return true
	default:
		c.logger.Warn().Stringer("command", cmd).Msg("Command queue full, dropping command")
		return false
	}
}

// HandleChunk feeds one transport chunk through the pipeline
func (c *Connection) HandleChunk(chunk []byte) {
	frames := c.assembler.Push(chunk)
	c.metrics.RecordChunk(len(chunk), len(frames))

	for _, frame := range frames {
		c.processFrame(frame)
	}
}

func (c *Connection) processFrame(frame audio.Frame) {
	now := c.now()
	c.frames.Add(1)

	// runs in every state and never changes it
	if c.gate.Detect(frame) {
		c.logger.Info().Msg("Wake word detected")
		observability.RecordWakeWord()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := c.events.PublishWakeWord(ctx, c.id, now); err != nil {
			c.logger.Error().Err(err).Msg("Failed to publish wake word event")
		}
		cancel()
	}

	if reason := c.session.Feed(frame, now); reason != session.NotFinalized {
		c.logger.Info().Stringer("reason", reason).Msg("Listening finalized")
	}
	c.state.Store(int32(c.session.State()))
}

// Apply executes a control command
func (c *Connection) Apply(cmd Command) {
	now := c.now()

	switch cmd {
	case CommandStartListening:
		if c.session.StartListening(now) {
			c.logger.Info().Msg("Listening started")
		} else {
			c.logger.Debug().Msg("Already listening, start ignored")
		}
	case CommandStopListening:
		if c.session.Stop(now) {
			c.logger.Info().Msg("Listening stopped by command")
		}
	}
	c.state.Store(int32(c.session.State()))
}

// Serve runs the connection loop until the client disconnects or ctx is
// cancelled. Partial utterances are dropped on exit.
func (c *Connection) Serve(ctx context.Context, ws *websocket.Conn) error {
	defer c.close()

	chunks := make(chan []byte, chunkQueueSize)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go c.readLoop(ws, chunks, readErr, done)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case chunk := <-chunks:
			c.HandleChunk(chunk)

		case cmd := <-c.commands:
			c.Apply(cmd)

		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Warn().Err(err).Msg("Ping failed")
				return err
			}

		case err := <-readErr:
			// chunks read before the error still count
		drain:
			for {
				select {
				case chunk := <-chunks:
					c.HandleChunk(chunk)
				default:
					break drain
				}
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info().Msg("Client disconnected")
				return nil
			}
			c.logger.Warn().Err(err).Msg("Client disconnected unexpectedly")
			return err

		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return ctx.Err()
		}
	}
}

func (c *Connection) readLoop(ws *websocket.Conn, chunks chan<- []byte, readErr chan<- error, done <-chan struct{}) {
	if c.readLimit > 0 {
		ws.SetReadLimit(c.readLimit)
	}
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.BinaryMessage {
			c.logger.Debug().Int("type", msgType).Msg("Ignoring non-binary message")
			continue
		}
		if len(data) == 0 {
			continue
		}
		select {
		case chunks <- data:
		case <-done:
			return
		}
	}
}

func (c *Connection) close() {
	if c.session.State() == session.Listening {
		c.logger.Info().Int("samples", c.session.Buffered()).Msg("Dropping partial utterance")
	}
	c.session.Discard()
	c.assembler.Reset()
	c.state.Store(int32(session.Idle))
	if err := c.gate.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close wake-word detector")
	}
	c.metrics.Close()
}
