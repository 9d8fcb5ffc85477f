package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/visiona/retina/internal/capture"
	"github.com/visiona/retina/internal/config"
	"github.com/visiona/retina/internal/emitter"
	"github.com/visiona/retina/internal/session"
	"github.com/visiona/retina/internal/statsapi"
)

const defaultConfigPath = "config/retina.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	simulate := flag.Bool("simulate", false, "Use the synthetic frame generator instead of screen capture")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if *simulate {
		cfg.Capture.Simulate = true
	}

	setupLogger(cfg.Log)

	slog.Info("starting retina daemon",
		"instance_id", cfg.InstanceID,
		"config", *configPath,
		"simulate", cfg.Capture.Simulate,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	provider, err := newProvider(cfg)
	if err != nil {
		slog.Error("failed to create frame provider", "error", err)
		os.Exit(1)
	}

	sess, err := session.New(cfg, provider)
	if err != nil {
		slog.Error("failed to create session", "error", err)
		os.Exit(1)
	}
	if err := sess.Start(ctx); err != nil {
		slog.Error("failed to start session", "error", err)
		os.Exit(1)
	}

	var api *statsapi.Server
	if cfg.HTTP.Enabled {
		api = statsapi.New(cfg.HTTP.Listen, sess)
		api.Start()
	}

	var telemetry *emitter.MQTTEmitter
	if cfg.MQTT.Enabled {
		telemetry = emitter.NewMQTTEmitter(cfg)
		if err := telemetry.Connect(ctx); err != nil {
			// Telemetry is not load-bearing; run without it.
			slog.Warn("mqtt unavailable, continuing without telemetry", "error", err)
			telemetry = nil
		} else {
			go publishLoop(ctx, telemetry, sess, time.Duration(cfg.MQTT.IntervalS)*time.Second)
		}
	}

	sig := <-sigChan
	slog.Info("received shutdown signal", "signal", sig)
	cancel()

	shutdownTimeout := time.Duration(cfg.ShutdownTimeoutS) * time.Second
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	done := make(chan error, 1)
	go func() {
		if api != nil {
			api.Shutdown()
		}
		if telemetry != nil {
			telemetry.Disconnect()
		}
		done <- sess.Stop()
	}()

	select {
	case err := <-done:
		if err != nil {
			slog.Error("shutdown failed", "error", err)
			os.Exit(1)
		}
	case <-time.After(shutdownTimeout):
		slog.Error("shutdown timed out")
		os.Exit(1)
	}

	slog.Info("retina daemon stopped successfully")
}

// setupLogger installs the global handler: JSON for services, tint for
// humans at a terminal.
func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "console" {
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func newProvider(cfg *config.Config) (capture.FrameProvider, error) {
	if cfg.Capture.Simulate {
		return capture.NewSyntheticProvider(cfg.Capture.Width, cfg.Capture.Height, cfg.Capture.TargetFPS)
	}
	return capture.NewScreenProvider(capture.ScreenConfig{
		Display:   cfg.Capture.Display,
		Width:     cfg.Capture.Width,
		Height:    cfg.Capture.Height,
		TargetFPS: cfg.Capture.TargetFPS,
	})
}

// publishLoop pushes session stats to the broker on a fixed cadence.
func publishLoop(ctx context.Context, telemetry *emitter.MQTTEmitter, sess *session.Session, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := telemetry.PublishStats(sess.Stats()); err != nil {
				slog.Debug("stats publish skipped", "error", err)
			}
			health, _ := json.Marshal(map[string]any{
				"status":    "ok",
				"timestamp": time.Now().UnixMicro(),
			})
			if err := telemetry.PublishHealth(health); err != nil {
				slog.Debug("health publish skipped", "error", err)
			}
		}
	}
}
