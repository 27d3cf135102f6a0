package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Wake-word engine names
const (
	WakeWordNone          = "none"
	WakeWordMicroWakeWord = "microwakeword"
)

// Transcription engine names
const (
	TranscribeWhisper  = "whisper"
	TranscribeDeepgram = "deepgram"
	TranscribeHTTP     = "http"
	TranscribeNone     = "none"
)

// Config holds all configuration for the vocal input service
type Config struct {
	// Audio websocket server
	Host      string `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
	Port      string `envconfig:"PORT" default:"8797" yaml:"port"`
	AudioPath string `envconfig:"AUDIO_PATH" default:"/audio" yaml:"audio_path"`

	// Largest single websocket message accepted from a client
	MaxMessageBytes int64 `envconfig:"MAX_MESSAGE_BYTES" default:"1048576" yaml:"max_message_bytes"`

	// MQTT event bus
	MQTTBroker        string        `envconfig:"MQTT_BROKER" default:"localhost" yaml:"mqtt_broker"`
	MQTTPort          int           `envconfig:"MQTT_PORT" default:"1884" yaml:"mqtt_port"`
	MQTTUsername      string        `envconfig:"MQTT_USERNAME" default:"username" yaml:"mqtt_username"`
	MQTTPassword      string        `envconfig:"MQTT_PASSWORD" default:"password" yaml:"-"`
	MQTTClientID      string        `envconfig:"MQTT_CLIENT_ID" default:"vocal-input" yaml:"mqtt_client_id"`
	MQTTKeepAlive     time.Duration `envconfig:"MQTT_KEEPALIVE" default:"60s" yaml:"mqtt_keepalive"`
	MQTTReadyTimeout  time.Duration `envconfig:"MQTT_READY_TIMEOUT" default:"10s" yaml:"mqtt_ready_timeout"`
	MQTTRetryInterval time.Duration `envconfig:"MQTT_RETRY_INTERVAL" default:"5s" yaml:"mqtt_retry_interval"`

	// Topics
	TopicWakeWord   string `envconfig:"TOPIC_WAKE_WORD" default:"cozmo/audio_input/wake_word" yaml:"topic_wake_word"`
	TopicTranscript string `envconfig:"TOPIC_TRANSCRIPT" default:"cozmo/audio_input/transcript" yaml:"topic_transcript"`
	TopicControl    string `envconfig:"TOPIC_CONTROL" default:"cozmo/voice_input/events" yaml:"topic_control"`

	// Audio pipeline. FrameSize only applies when the wake-word detector
	// does not dictate its own frame length.
	SampleRate        int           `envconfig:"SAMPLE_RATE" default:"16000" yaml:"sample_rate"`
	FrameSize         int           `envconfig:"FRAME_SIZE" default:"512" yaml:"frame_size"`
	SilenceThreshold  float64       `envconfig:"SILENCE_THRESHOLD" default:"500" yaml:"silence_threshold"`
	SilenceDuration   time.Duration `envconfig:"SILENCE_DURATION" default:"1.5s" yaml:"silence_duration"`
	MaxListenDuration time.Duration `envconfig:"MAX_LISTEN_DURATION" default:"10s" yaml:"max_listen_duration"`

	// Wake word
	WakeWordEngine string `envconfig:"WAKEWORD_ENGINE" default:"microwakeword" yaml:"wakeword_engine"`
	WakeWordModel  string `envconfig:"WAKEWORD_MODEL" default:"okay_nabu" yaml:"wakeword_model"`

	// Transcription
	TranscribeEngine        string        `envconfig:"TRANSCRIBE_ENGINE" default:"whisper" yaml:"transcribe_engine"`
	WhisperModelPath        string        `envconfig:"WHISPER_MODEL_PATH" default:"./models/ggml-base.bin" yaml:"whisper_model_path"`
	WhisperLanguage         string        `envconfig:"WHISPER_LANGUAGE" default:"auto" yaml:"whisper_language"`
	DeepgramAPIKey          string        `envconfig:"DEEPGRAM_API_KEY" yaml:"-"`
	DeepgramModel           string        `envconfig:"DEEPGRAM_MODEL" default:"nova-2" yaml:"deepgram_model"`
	DeepgramLanguage        string        `envconfig:"DEEPGRAM_LANGUAGE" default:"en" yaml:"deepgram_language"`
	TranscribeHTTPEndpoint  string        `envconfig:"TRANSCRIBE_HTTP_ENDPOINT" yaml:"transcribe_http_endpoint"`
	TranscribeHTTPAPIKey    string        `envconfig:"TRANSCRIBE_HTTP_API_KEY" yaml:"-"`
	TranscribeHTTPModel     string        `envconfig:"TRANSCRIBE_HTTP_MODEL" default:"whisper-1" yaml:"transcribe_http_model"`
	TranscribeTimeout       time.Duration `envconfig:"TRANSCRIBE_TIMEOUT" default:"30s" yaml:"transcribe_timeout"`
	TranscribeMaxConcurrent int           `envconfig:"TRANSCRIBE_MAX_CONCURRENT" default:"2" yaml:"transcribe_max_concurrent"`

	// Resilience
	CircuitBreakerMaxFailures  int           `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5" yaml:"circuit_breaker_max_failures"`
	CircuitBreakerResetTimeout time.Duration `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30s" yaml:"circuit_breaker_reset_timeout"`
	PublishMaxAttempts         int           `envconfig:"PUBLISH_MAX_ATTEMPTS" default:"3" yaml:"publish_max_attempts"`
	PublishBackoff             time.Duration `envconfig:"PUBLISH_BACKOFF" default:"100ms" yaml:"publish_backoff"`

	// Observability
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info" yaml:"log_level"` // debug, info, warn, error, disabled
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false" yaml:"log_pretty"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true" yaml:"metrics_enabled"`

	// Discovery and health RPC
	MDNSEnabled       bool   `envconfig:"MDNS_ENABLED" default:"false" yaml:"mdns_enabled"`
	MDNSInstance      string `envconfig:"MDNS_INSTANCE" default:"vocal-input" yaml:"mdns_instance"`
	GRPCHealthEnabled bool   `envconfig:"GRPC_HEALTH_ENABLED" default:"false" yaml:"grpc_health_enabled"`
	GRPCHealthPort    string `envconfig:"GRPC_HEALTH_PORT" default:"8798" yaml:"grpc_health_port"`

	// Optional YAML overlay, applied on top of the environment
	ConfigFile string `envconfig:"CONFIG_FILE" yaml:"-"`
}

// Load reads configuration the same way the service is deployed:
// .env is loaded without overriding the process environment, .env.local
// (when present) overrides it, then the environment is processed.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	if _, err := os.Stat(".env.local"); err == nil {
		if err := godotenv.Overload(".env.local"); err != nil {
			return nil, fmt.Errorf("failed to load .env.local: %w", err)
		}
	}
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without touching .env files (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects configurations the pipeline cannot run with.
// It is called before any connection is accepted.
func (c *Config) Validate() error {
	var errs []error

	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("SAMPLE_RATE must be positive, got %d", c.SampleRate))
	}
	if c.FrameSize <= 0 {
		errs = append(errs, fmt.Errorf("FRAME_SIZE must be positive, got %d", c.FrameSize))
	}
	if c.SilenceThreshold <= 0 {
		errs = append(errs, fmt.Errorf("SILENCE_THRESHOLD must be positive, got %v", c.SilenceThreshold))
	}
	if c.SilenceDuration <= 0 {
		errs = append(errs, fmt.Errorf("SILENCE_DURATION must be positive, got %v", c.SilenceDuration))
	}
	if c.MaxListenDuration <= 0 {
		errs = append(errs, fmt.Errorf("MAX_LISTEN_DURATION must be positive, got %v", c.MaxListenDuration))
	}
	if c.TranscribeMaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("TRANSCRIBE_MAX_CONCURRENT must be positive, got %d", c.TranscribeMaxConcurrent))
	}
	if c.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_MESSAGE_BYTES must be positive, got %d", c.MaxMessageBytes))
	}
	if !strings.HasPrefix(c.AudioPath, "/") {
		errs = append(errs, fmt.Errorf("AUDIO_PATH must start with '/', got %q", c.AudioPath))
	}

	switch c.WakeWordEngine {
	case WakeWordNone, WakeWordMicroWakeWord:
	default:
		errs = append(errs, fmt.Errorf("unknown WAKEWORD_ENGINE %q", c.WakeWordEngine))
	}

	switch c.TranscribeEngine {
	case TranscribeWhisper, TranscribeNone:
	case TranscribeDeepgram:
		if c.DeepgramAPIKey == "" {
			errs = append(errs, errors.New("DEEPGRAM_API_KEY is required when TRANSCRIBE_ENGINE=deepgram"))
		}
	case TranscribeHTTP:
		if c.TranscribeHTTPEndpoint == "" {
			errs = append(errs, errors.New("TRANSCRIBE_HTTP_ENDPOINT is required when TRANSCRIBE_ENGINE=http"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TRANSCRIBE_ENGINE %q", c.TranscribeEngine))
	}

	return errors.Join(errs...)
}

// ListenAddr returns the host:port the audio server binds to
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// MQTTBrokerURL returns the broker address in the form paho expects
func (c *Config) MQTTBrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTTBroker, c.MQTTPort)
}
