package audio

import "time"

// SilenceStatus is the outcome of evaluating one frame
type SilenceStatus int

const (
	Active                   SilenceStatus = iota // frame energy at or above threshold
	SilenceStarted                                // first quiet frame of a run
	SilenceContinuing                             // quiet run still under the duration
	SilenceExceededThreshold                      // quiet run longer than the duration
)

func (s SilenceStatus) String() string {
	switch s {
	case Active:
		return "active"
	case SilenceStarted:
		return "silence_started"
	case SilenceContinuing:
		return "silence_continuing"
	case SilenceExceededThreshold:
		return "silence_exceeded"
	default:
		return "unknown"
	}
}

// Default silence parameters on a 16-bit amplitude scale
const (
	DefaultSilenceThreshold = 500.0
	DefaultSilenceDuration  = 1500 * time.Millisecond
)

// SilenceTracker classifies frames by energy and times runs of silence
type SilenceTracker struct {
	threshold float64
	duration  time.Duration

	inSilence        bool
	silenceStartedAt time.Time
}

// NewSilenceTracker creates a tracker. Non-positive arguments fall back to defaults.
func NewSilenceTracker(threshold float64, duration time.Duration) *SilenceTracker {
	if threshold <= 0 {
		threshold = DefaultSilenceThreshold
	}
	if duration <= 0 {
		duration = DefaultSilenceDuration
	}
	return &SilenceTracker{
		threshold: threshold,
		duration:  duration,
	}
}

// Evaluate classifies frame as observed at now
func (t *SilenceTracker) Evaluate(frame Frame, now time.Time) SilenceStatus {
	if !DetectSilence(frame, t.threshold) {
		t.Reset()
		return Active
	}

	if !t.inSilence {
		t.inSilence = true
		t.silenceStartedAt = now
		return SilenceStarted
	}

	if now.Sub(t.silenceStartedAt) > t.duration {
		return SilenceExceededThreshold
	}
	return SilenceContinuing
}

// SilenceStartedAt returns the start of the open silence run, if any
func (t *SilenceTracker) SilenceStartedAt() (time.Time, bool) {
	return t.silenceStartedAt, t.inSilence
}

// Reset closes any open silence run
func (t *SilenceTracker) Reset() {
	t.inSilence = false
	t.silenceStartedAt = time.Time{}
}

// Energy is the mean absolute amplitude of samples
func Energy(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	var sum int64
	for _, sample := range samples {
		v := int64(sample)
		if v < 0 {
			v = -v
		}
		sum += v
	}

	return float64(sum) / float64(len(samples))
}

// DetectSilence reports whether samples fall below threshold
func DetectSilence(samples []int16, threshold float64) bool {
	return Energy(samples) < threshold
}
