package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/grandcat/zeroconf"

	"github.com/cozmo/vocal-input/internal/bus"
	"github.com/cozmo/vocal-input/internal/config"
	"github.com/cozmo/vocal-input/internal/observability"
	"github.com/cozmo/vocal-input/internal/resilience"
	"github.com/cozmo/vocal-input/internal/server"
	"github.com/cozmo/vocal-input/internal/session"
	"github.com/cozmo/vocal-input/internal/transcribe"
	"github.com/cozmo/vocal-input/internal/wakeword"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("addr", cfg.ListenAddr()).
		Str("broker", cfg.MQTTBrokerURL()).
		Str("wakeword_engine", cfg.WakeWordEngine).
		Str("transcribe_engine", cfg.TranscribeEngine).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Vocal input service starting")

	// Engines load before any connection is accepted
	detectors, err := wakeword.NewFactory(wakeword.Options{
		Engine:      cfg.WakeWordEngine,
		Model:       cfg.WakeWordModel,
		FrameLength: cfg.FrameSize,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize wake-word detector")
	}

	engine, err := transcribe.New(transcribe.Options{
		Engine:           cfg.TranscribeEngine,
		WhisperModelPath: cfg.WhisperModelPath,
		WhisperLanguage:  cfg.WhisperLanguage,
		DeepgramAPIKey:   cfg.DeepgramAPIKey,
		DeepgramModel:    cfg.DeepgramModel,
		DeepgramLanguage: cfg.DeepgramLanguage,
		HTTPEndpoint:     cfg.TranscribeHTTPEndpoint,
		HTTPAPIKey:       cfg.TranscribeHTTPAPIKey,
		HTTPModel:        cfg.TranscribeHTTPModel,
		HTTPTimeout:      cfg.TranscribeTimeout,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize transcription engine")
	}

	// Event bus
	mqttClient := bus.NewMQTTClient(bus.MQTTConfig{
		BrokerURL:     cfg.MQTTBrokerURL(),
		ClientID:      cfg.MQTTClientID,
		Username:      cfg.MQTTUsername,
		Password:      cfg.MQTTPassword,
		KeepAlive:     cfg.MQTTKeepAlive,
		RetryInterval: cfg.MQTTRetryInterval,
	}, logger)

	events := bus.NewEventPublisher(mqttClient, bus.Topics{
		WakeWord:   cfg.TopicWakeWord,
		Transcript: cfg.TopicTranscript,
	})

	dispatcher := transcribe.NewDispatcher(engine, events, transcribe.DispatcherConfig{
		SampleRate:    cfg.SampleRate,
		Timeout:       cfg.TranscribeTimeout,
		MaxConcurrent: cfg.TranscribeMaxConcurrent,
		PublishRetry: &resilience.RetryConfig{
			MaxAttempts:       cfg.PublishMaxAttempts,
			InitialBackoff:    cfg.PublishBackoff,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		Breaker: resilience.NewCircuitBreaker(engine.Name(), cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetTimeout),
		Logger:  logger,
	})

	handler := server.NewConnectionHandler(server.HandlerConfig{
		Detectors: detectors,
		Session: session.Config{
			SilenceThreshold:  cfg.SilenceThreshold,
			SilenceDuration:   cfg.SilenceDuration,
			MaxListenDuration: cfg.MaxListenDuration,
		},
		Sink:            dispatcher,
		Events:          events,
		Logger:          logger,
		MaxMessageBytes: cfg.MaxMessageBytes,
	})

	// Control events from the bus reach connections through the registry
	router := bus.NewRouter(logger)
	server.RegisterControlHandlers(router, handler.Registry(), logger)
	mqttClient.Subscribe(cfg.TopicControl, router.HandleMessage)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mqttClient.Start(ctx)
	if !mqttClient.WaitReady(cfg.MQTTReadyTimeout) {
		logger.Error().Msg("Broker not ready, continuing; events are dropped until it connects")
	}

	checks := observability.NewChecks()
	checks.Register("mqtt", mqttClient.Ready)
	checks.Register("transcription", dispatcher.Ready)

	gin.SetMode(gin.ReleaseMode)
	engineRouter := server.NewRouter(handler, server.RouterConfig{
		AudioPath:      cfg.AudioPath,
		MetricsEnabled: cfg.MetricsEnabled,
		Checks:         checks,
		Logger:         logger,
	})

	// No write timeout: audio sessions are long-lived
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           engineRouter,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr()).
			Str("endpoint", fmt.Sprintf("ws://%s%s", cfg.ListenAddr(), cfg.AudioPath)).
			Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	var mdns *zeroconf.Server
	if cfg.MDNSEnabled {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil {
			logger.Error().Err(err).Str("port", cfg.Port).Msg("Invalid port, mDNS disabled")
		} else if mdns, err = server.Advertise(cfg.MDNSInstance, port, cfg.AudioPath, logger); err != nil {
			logger.Error().Err(err).Msg("Failed to advertise over mDNS")
		}
	}

	var grpcHealth *server.HealthServer
	if cfg.GRPCHealthEnabled {
		grpcHealth = server.NewHealthServer(observability.ServiceName, checks, 5*time.Second, logger)
		go func() {
			addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.GRPCHealthPort)
			if err := grpcHealth.Serve(ctx, addr); err != nil {
				logger.Error().Err(err).Msg("gRPC health server failed")
			}
		}()
	}

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if mdns != nil {
		mdns.Shutdown()
	}
	if grpcHealth != nil {
		grpcHealth.Stop()
	}

	// Hijacked websocket connections are not tracked by http.Server, so
	// they are closed through the handler.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server forced to shutdown")
	}
	if err := handler.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Connections did not close in time")
	}
	// also closes the engine
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Abandoning in-flight transcriptions")
	}
	mqttClient.Close()

	logger.Info().Msg("Server exited gracefully")
}
