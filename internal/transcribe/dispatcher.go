package transcribe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cozmo/vocal-input/internal/audio"
	"github.com/cozmo/vocal-input/internal/observability"
	"github.com/cozmo/vocal-input/internal/resilience"
	"github.com/cozmo/vocal-input/internal/session"
)

// TranscriptPublisher announces a transcription. finalizedAt is when
// listening ended, not when the engine returned.
type TranscriptPublisher interface {
	PublishTranscript(ctx context.Context, text string, finalizedAt time.Time) error
}

// DispatcherConfig tunes the dispatcher
type DispatcherConfig struct {
	SampleRate     int
	Timeout        time.Duration // per transcription call
	MaxConcurrent  int
	PublishTimeout time.Duration
	PublishRetry   *resilience.RetryConfig
	Breaker        *resilience.CircuitBreaker
	Logger         zerolog.Logger
}

// Dispatcher hands utterances to an engine on background goroutines.
// Failures are logged and counted; they never reach the frame loop.
type Dispatcher struct {
	engine    Engine
	publisher TranscriptPublisher
	cfg       DispatcherConfig
	logger    zerolog.Logger

	semaphore chan struct{}
	wg        sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
}

// NewDispatcher creates a dispatcher over engine
func NewDispatcher(engine Engine, publisher TranscriptPublisher, cfg DispatcherConfig) *Dispatcher {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.PublishRetry == nil {
		cfg.PublishRetry = resilience.DefaultRetryConfig()
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker(engine.Name(), 5, 30*time.Second)
	}

	d := &Dispatcher{
		engine:    engine,
		publisher: publisher,
		cfg:       cfg,
		logger:    cfg.Logger.With().Str("component", "dispatcher").Str("engine", engine.Name()).Logger(),
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		closing:   make(chan struct{}),
	}

	observability.UpdateCircuitBreakerState(cfg.Breaker.Name(), int(cfg.Breaker.GetState()))
	cfg.Breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		d.logger.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("Circuit breaker state changed")
		observability.UpdateCircuitBreakerState(name, int(to))
	})
	return d
}

// Dispatch schedules transcription of u and returns immediately. Empty
// utterances are ignored.
func (d *Dispatcher) Dispatch(u session.Utterance) {
	if len(u.Samples) == 0 {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn().Msg("Dispatcher closing, dropping utterance")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	observability.RecordUtterance(u.Reason.String(), u.Duration(d.cfg.SampleRate))

	go func() {
		defer d.wg.Done()
		d.run(u)
	}()
}

func (d *Dispatcher) run(u session.Utterance) {
	logger := d.logger.With().
		Str("reason", u.Reason.String()).
		Dur("audio", u.Duration(d.cfg.SampleRate)).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Transcription panicked")
			observability.RecordError("panic", "transcribe")
		}
	}()

	select {
	case d.semaphore <- struct{}{}:
		defer func() { <-d.semaphore }()
	case <-d.closing:
		return
	}

	wav, err := audio.EncodeWAV(u.Samples, d.cfg.SampleRate)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode utterance")
		observability.RecordError("encode", "transcribe")
		return
	}

	var text string
	start := time.Now()
	err = d.cfg.Breaker.Call(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		defer cancel()

		var callErr error
		text, callErr = d.engine.Transcribe(ctx, wav)
		return callErr
	})
	latency := time.Since(start)

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		logger.Warn().Msg("Transcription skipped, circuit breaker open")
		observability.RecordTranscriptionRejected(d.engine.Name())
		return
	case err != nil:
		logger.Error().Err(err).Dur("latency", latency).Msg("Transcription failed, dropping utterance")
		observability.RecordTranscription(d.engine.Name(), false, latency)
		observability.IncrementCircuitBreakerFailures(d.cfg.Breaker.Name())
		return
	}
	observability.RecordTranscription(d.engine.Name(), true, latency)

	text = strings.TrimSpace(text)
	if text == "" {
		logger.Debug().Dur("latency", latency).Msg("Transcription returned no text")
		return
	}
	logger.Info().Str("text", text).Dur("latency", latency).Msg("Utterance transcribed")

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
	defer cancel()

	err = resilience.Retry(ctx, func() error {
		return d.publisher.PublishTranscript(ctx, text, u.FinalizedAt)
	}, d.cfg.PublishRetry, resilience.IsRetryableNetworkError)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to publish transcript")
		observability.RecordError("publish", "transcribe")
	}
}

// Wait blocks until in-flight dispatches finish or ctx is done
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting utterances, waits for in-flight work up to ctx and
// releases the engine.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.closing)
	}
	d.mu.Unlock()

	waitErr := d.Wait(ctx)
	return errors.Join(waitErr, d.engine.Close())
}

// Ready reports whether the engine is currently accepting work
func (d *Dispatcher) Ready(context.Context) error {
	if _, ok := d.engine.(NoneEngine); ok {
		return ErrEngineUnavailable
	}
	if d.cfg.Breaker.GetState() == resilience.StateOpen {
		return resilience.ErrCircuitOpen
	}
	return nil
}
