package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/normanking/lipsync/internal/blend"
	"github.com/normanking/lipsync/internal/bus"
	"github.com/normanking/lipsync/internal/config"
	"github.com/normanking/lipsync/internal/lipsync"
	"github.com/normanking/lipsync/internal/logging"
	"github.com/normanking/lipsync/internal/metrics"
	"github.com/normanking/lipsync/internal/rig"
	"github.com/normanking/lipsync/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(&logging.Config{
		Level:   logging.LogLevel(cfg.Logging.Level),
		Console: cfg.Logging.Console,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	zlog := logger.Component("main")

	events := bus.NewEventBus()
	events.SubscribeMultiple([]bus.EventType{
		bus.EventTypeConnected,
		bus.EventTypeDisconnected,
		bus.EventTypeBound,
		bus.EventTypeBindFailed,
		bus.EventTypeQueueOverflow,
	}, func(ev bus.Event) {
		zlog.Info().Str("event", string(ev.Type)).Interface("data", ev.Data).Msg("Pipeline event")
	})

	controller := lipsync.NewController(lipsync.Config{
		SpeakerID:     cfg.Transport.SpeakerID,
		LeadTimeMs:    cfg.Sync.LeadTimeMs,
		QueueCapacity: cfg.Queue.Capacity,
		EvictFraction: cfg.Queue.EvictFraction,
		IngestBuffer:  cfg.Transport.IngestBuffer,
		Blend: blend.Config{
			TransitionMs:  cfg.Blend.TransitionMs,
			HoldMs:        cfg.Blend.HoldMs,
			DecayMs:       cfg.Blend.DecayMs,
			RestIntensity: cfg.Blend.RestIntensity,
		},
	}, events, logger.Zerolog())

	if cfg.Rig.ModelPath != "" {
		nodes, err := rig.LoadInventoryFromGLTF(cfg.Rig.ModelPath)
		if err != nil {
			zlog.Error().Err(err).Str("path", cfg.Rig.ModelPath).Msg("Failed to load avatar model")
		} else if err := controller.Bind(nodes); err != nil {
			// Non-fatal: the avatar runs without facial animation.
			zlog.Warn().Err(err).Msg("Avatar has no viseme channels, facial animation disabled")
		}
	} else {
		zlog.Warn().Msg("No rig.model_path configured, running unbound")
	}

	// Live lead-time tuning from the config file.
	config.Watch(func(updated *config.Config) {
		zlog.Info().Float64("lead_time_ms", updated.Sync.LeadTimeMs).Msg("Config reloaded")
		controller.SetLeadTime(updated.Sync.LeadTimeMs)
	})

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(cfg.Metrics.Addr, logger.Zerolog()); err != nil {
				zlog.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := transport.NewClient(cfg.Transport.URL, events, logger.Zerolog())
	client.SetVisemeCallback(controller.HandleVisemeEvent)
	client.SetAudioSyncCallback(controller.HandleAudioScheduled)
	if err := client.Connect(ctx); err != nil {
		zlog.Error().Err(err).Msg("Failed to start transport")
	}
	defer client.Disconnect()

	tickHz := cfg.Rig.TickHz
	if tickHz <= 0 {
		tickHz = 60
	}
	ticker := time.NewTicker(time.Second / time.Duration(tickHz))
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// The tick loop stands in for the host renderer's per-frame
	// callback. Elapsed time is monotonic milliseconds since start.
	start := time.Now()
	zlog.Info().Int("tick_hz", tickHz).Msg("lipsyncd running")

	for {
		select {
		case <-sigChan:
			zlog.Info().Msg("Shutting down")
			controller.SetSilence()
			return
		case <-ticker.C:
			controller.Tick(float64(time.Since(start)) / float64(time.Millisecond))
		}
	}
}
