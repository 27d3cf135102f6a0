package transcribe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/cozmo/vocal-input/internal/audio"
)

// deepgramQuietPeriod bounds how long to wait for more results after the
// last message once all audio has been sent
const deepgramQuietPeriod = 1500 * time.Millisecond

// deepgramCoverageSlack absorbs rounding in result timestamps
const deepgramCoverageSlack = 0.05

// DeepgramEngine transcribes utterances over Deepgram's live API. Each call
// opens its own stream, so concurrent calls do not interfere.
type DeepgramEngine struct {
	apiKey   string
	model    string
	language string
	logger   zerolog.Logger
}

// NewDeepgramEngine creates a Deepgram-backed engine
func NewDeepgramEngine(apiKey, model, language string, logger zerolog.Logger) (Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram API key is required")
	}
	listenClient.InitWithDefault()

	return &DeepgramEngine{
		apiKey:   apiKey,
		model:    model,
		language: language,
		logger:   logger.With().Str("component", "deepgram").Logger(),
	}, nil
}

func (d *DeepgramEngine) Name() string { return "deepgram" }
func (d *DeepgramEngine) Close() error { return nil }

// utteranceCollector embeds the default handler and keeps only final
// results. It completes once the finals cover the submitted audio or the
// server answers the Finalize request.
type utteranceCollector struct {
	*websocketv1api.DefaultCallbackHandler

	audioSeconds float64

	mu       sync.Mutex
	finals   []string
	covered  float64
	err      error
	activity chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func newUtteranceCollector(audioSeconds float64) *utteranceCollector {
	return &utteranceCollector{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		audioSeconds:           audioSeconds,
		activity:               make(chan struct{}, 1),
		done:                   make(chan struct{}),
	}
}

func (c *utteranceCollector) touch() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}

func (c *utteranceCollector) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Message records final transcripts and tracks how much audio they cover
func (c *utteranceCollector) Message(msg *msginterfaces.MessageResponse) error {
	c.touch()
	if msg == nil || !msg.IsFinal {
		return nil
	}

	c.mu.Lock()
	if end := msg.Start + msg.Duration; end > c.covered {
		c.covered = end
	}
	if len(msg.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript); text != "" {
			c.finals = append(c.finals, text)
		}
	}
	complete := msg.FromFinalize ||
		(c.audioSeconds > 0 && c.covered >= c.audioSeconds-deepgramCoverageSlack)
	c.mu.Unlock()

	if complete {
		c.finish()
	}
	return nil
}

// UtteranceEnd fires on every word gap longer than UtteranceEndMs, which
// can happen mid-utterance, so it only counts as activity.
func (c *utteranceCollector) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	c.touch()
	return nil
}

func (c *utteranceCollector) Close(*msginterfaces.CloseResponse) error {
	c.finish()
	return nil
}

func (c *utteranceCollector) Error(er *msginterfaces.ErrorResponse) error {
	c.mu.Lock()
	if er != nil {
		c.err = fmt.Errorf("deepgram error: %s: %s", er.ErrCode, er.ErrMsg)
	} else {
		c.err = fmt.Errorf("deepgram error")
	}
	c.mu.Unlock()
	c.finish()
	return nil
}

func (c *utteranceCollector) result() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	return strings.Join(c.finals, " "), nil
}

// Transcribe streams the WAV container to Deepgram, asks it to finalize
// and joins the final results. Collection stops when the finals cover the
// whole clip, on the finalize response, on close or error, after a quiet
// period following the last result, or when ctx expires.
func (d *DeepgramEngine) Transcribe(ctx context.Context, wav []byte) (string, error) {
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.model,
		Language:       d.language,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		// encoding and sample rate come from the WAV header
	}

	var audioSeconds float64
	if samples, rate, err := audio.DecodeWAVToFloat32(wav); err == nil && rate > 0 {
		audioSeconds = float64(len(samples)) / float64(rate)
	}
	collector := newUtteranceCollector(audioSeconds)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	client, err := listenClient.NewWSUsingCallback(streamCtx, d.apiKey, nil, tOptions, collector)
	if err != nil {
		return "", fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		return "", fmt.Errorf("failed to connect to Deepgram")
	}
	defer client.Stop()

	if _, err := client.Write(wav); err != nil {
		return "", fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	if err := client.Finalize(); err != nil {
		d.logger.Warn().Err(err).Msg("Finalize request failed, waiting for results")
	}

	quiet := time.NewTimer(deepgramQuietPeriod)
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-collector.done:
			return collector.result()
		case <-collector.activity:
			if !quiet.Stop() {
				<-quiet.C
			}
			quiet.Reset(deepgramQuietPeriod)
		case <-quiet.C:
			d.logger.Debug().Msg("No further results from Deepgram, closing stream")
			return collector.result()
		}
	}
}
