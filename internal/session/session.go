// Package session implements the per-connection utterance capture state
// machine: Idle -> Listening -> finalize -> Idle.
package session

import (
	"time"

	"github.com/cozmo/vocal-input/internal/audio"
)

// State of a listening session
type State int

const (
	Idle State = iota
	Listening
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	default:
		return "unknown"
	}
}

// FinalizeReason explains why a Listening period ended
type FinalizeReason int

const (
	// NotFinalized means the session is still listening (or was idle)
	NotFinalized FinalizeReason = iota
	FinalizedSilence
	FinalizedTimeout
	FinalizedStopped
)

func (r FinalizeReason) String() string {
	switch r {
	case NotFinalized:
		return "none"
	case FinalizedSilence:
		return "silence"
	case FinalizedTimeout:
		return "timeout"
	case FinalizedStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Utterance is the audio captured during one Listening period
type Utterance struct {
	Samples     []int16
	StartedAt   time.Time
	FinalizedAt time.Time
	Reason      FinalizeReason
}

// Duration of the captured audio at the given sample rate
func (u Utterance) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(sampleRate)
}

// Sink receives finalized utterances. It is called synchronously from
// the frame loop and must return quickly.
type Sink interface {
	Dispatch(u Utterance)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(u Utterance)

func (f SinkFunc) Dispatch(u Utterance) { f(u) }

// Config holds the segmentation parameters
type Config struct {
	SilenceThreshold  float64
	SilenceDuration   time.Duration
	MaxListenDuration time.Duration
}

// DefaultConfig returns the stock segmentation parameters
func DefaultConfig() Config {
	return Config{
		SilenceThreshold:  audio.DefaultSilenceThreshold,
		SilenceDuration:   audio.DefaultSilenceDuration,
		MaxListenDuration: 10 * time.Second,
	}
}

// ListeningSession owns one connection's utterance buffer. It is not
// safe for concurrent use; the connection loop serializes all calls.
type ListeningSession struct {
	cfg     Config
	sink    Sink
	silence *audio.SilenceTracker

	state              State
	buffer             []int16
	listeningStartedAt time.Time
}

// New creates an idle session that hands finalized utterances to sink
func New(cfg Config, sink Sink) *ListeningSession {
	if cfg.MaxListenDuration <= 0 {
		cfg.MaxListenDuration = DefaultConfig().MaxListenDuration
	}
	return &ListeningSession{
		cfg:     cfg,
		sink:    sink,
		silence: audio.NewSilenceTracker(cfg.SilenceThreshold, cfg.SilenceDuration),
		state:   Idle,
	}
}

// State returns the current state
func (s *ListeningSession) State() State {
	return s.state
}

// Buffered returns the number of samples captured so far
func (s *ListeningSession) Buffered() int {
	return len(s.buffer)
}

// ListeningStartedAt is zero while idle
func (s *ListeningSession) ListeningStartedAt() time.Time {
	return s.listeningStartedAt
}

// SilenceStartedAt reports the start of the open silence run, if any
func (s *ListeningSession) SilenceStartedAt() (time.Time, bool) {
	return s.silence.SilenceStartedAt()
}

// StartListening enters Listening. It returns false and leaves the
// current capture untouched if the session is already listening.
func (s *ListeningSession) StartListening(now time.Time) bool {
	if s.state == Listening {
		return false
	}
	s.state = Listening
	s.buffer = s.buffer[:0]
	s.listeningStartedAt = now
	s.silence.Reset()
	return true
}

// Feed processes one frame. Idle sessions ignore audio. While listening
// the frame is appended first, then silence and timeout are checked.
// The returned reason is NotFinalized unless this frame ended the capture.
func (s *ListeningSession) Feed(frame audio.Frame, now time.Time) FinalizeReason {
	if s.state != Listening {
		return NotFinalized
	}

	s.buffer = append(s.buffer, frame...)

	if s.silence.Evaluate(frame, now) == audio.SilenceExceededThreshold {
		s.finalize(now, FinalizedSilence)
		return FinalizedSilence
	}
	if now.Sub(s.listeningStartedAt) > s.cfg.MaxListenDuration {
		s.finalize(now, FinalizedTimeout)
		return FinalizedTimeout
	}
	return NotFinalized
}

// Stop forces a finalize. It returns false when the session was idle.
func (s *ListeningSession) Stop(now time.Time) bool {
	if s.state != Listening {
		return false
	}
	s.finalize(now, FinalizedStopped)
	return true
}

// Discard drops any in-progress capture without dispatching it
func (s *ListeningSession) Discard() {
	s.state = Idle
	s.buffer = nil
	s.listeningStartedAt = time.Time{}
	s.silence.Reset()
}

func (s *ListeningSession) finalize(now time.Time, reason FinalizeReason) {
	if len(s.buffer) > 0 && s.sink != nil {
		samples := make([]int16, len(s.buffer))
		copy(samples, s.buffer)
		s.sink.Dispatch(Utterance{
			Samples:     samples,
			StartedAt:   s.listeningStartedAt,
			FinalizedAt: now,
			Reason:      reason,
		})
	}
	s.state = Idle
	s.buffer = s.buffer[:0]
	s.listeningStartedAt = time.Time{}
	s.silence.Reset()
}
