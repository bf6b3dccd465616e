package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/eenness/Mix2Go/internal/config"
	"github.com/eenness/Mix2Go/internal/events"
	"github.com/eenness/Mix2Go/internal/metrics"
	"github.com/eenness/Mix2Go/internal/sender"
	"github.com/eenness/Mix2Go/internal/server"
	"github.com/eenness/Mix2Go/internal/source"
	"github.com/eenness/Mix2Go/internal/stream"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "mix2go-streamer"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("target", net.JoinHostPort(cfg.Stream.TargetAddress, strconv.Itoa(cfg.Stream.TargetPort))),
		slog.String("source", cfg.Audio.Source),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("channels", cfg.Audio.Channels),
		slog.Int("block_size", cfg.Audio.BlockSize),
		slog.Duration("send_interval", cfg.Stream.GetSendInterval()),
		slog.Bool("nats_enabled", cfg.NATS.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stream manager
	streamMgr, err := stream.NewManager(stream.Config{
		Sender: sender.Config{
			BindAddress:      cfg.Stream.BindAddress,
			LocalPort:        cfg.Stream.LocalPort,
			SendInterval:     cfg.Stream.GetSendInterval(),
			WriteTimeout:     cfg.Stream.GetWriteTimeout(),
			JoinTimeout:      cfg.Stream.GetJoinTimeout(),
			SocketBufferSize: cfg.Stream.SocketBufferSize,
		},
		StatsInterval:     cfg.Stream.GetStatsInterval(),
		SilenceThreshold:  cfg.Silence.Threshold,
		SilenceHoldBlocks: cfg.Silence.HoldBlocks,
	}, logger)
	if err != nil {
		logger.Error("Failed to create stream manager", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Prometheus metrics on a private registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry, streamMgr)
	streamMgr.AddListener(appMetrics)
	logger.Info("Prometheus metrics initialized")

	// Optional NATS event publishing
	var publisher *events.Publisher
	if cfg.NATS.Enabled {
		conn, err := events.Connect(cfg.NATS.URL, cfg.NATS.MaxRetries, logger)
		if err != nil {
			logger.Error("Failed to connect to NATS", slog.String("error", err.Error()))
			os.Exit(1)
		}
		publisher = events.NewPublisher(conn, cfg.NATS.SubjectPrefix, streamMgr, logger)
		streamMgr.AddListener(publisher)
		logger.Info("NATS event publisher initialized",
			slog.String("state_subject", publisher.StateSubject()),
			slog.String("stats_subject", publisher.StatsSubject()),
		)
	}

	// Audio source
	src, err := source.New(cfg.Audio, logger)
	if err != nil {
		logger.Error("Failed to create audio source", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := streamMgr.Prepare(src.SampleRate(), src.BlockSize(), src.Channels()); err != nil {
		logger.Error("Failed to prepare stream", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Stream prepared",
		slog.String("source", src.Name()),
		slog.Float64("sample_rate", src.SampleRate()),
		slog.Int("channels", src.Channels()),
		slog.Int("packet_samples", streamMgr.PacketSamples()),
		slog.Int("packet_size", streamMgr.PacketSize()),
	)

	if err := streamMgr.SetTarget(cfg.Stream.TargetAddress, cfg.Stream.TargetPort); err != nil {
		logger.Error("Invalid stream target", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := src.Start(ctx, streamMgr.PushAudio); err != nil {
		logger.Error("Failed to start audio source", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if cfg.Stream.AutoStart {
		if err := streamMgr.StartStreaming(); err != nil {
			// Not fatal: the HTTP API can retry once the port is free
			logger.Error("Failed to start streaming", slog.String("error", err.Error()))
		}
	}

	// HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, streamMgr, appMetrics, registry)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	logger.Info("Service started successfully, waiting for signals...")

	<-ctx.Done()
	logger.Info("Starting graceful shutdown...")

	if err := src.Stop(); err != nil {
		logger.Error("Error stopping audio source", slog.String("error", err.Error()))
	}

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	streamMgr.StopStreaming()

	logger.Info("Final stream statistics",
		slog.Uint64("packets_sent", streamMgr.PacketsSent()),
		slog.Uint64("bytes_sent", streamMgr.BytesSent()),
		slog.Uint64("send_errors", streamMgr.SendErrors()),
		slog.Uint64("fifo_overruns", streamMgr.FIFOOverruns()),
		slog.Uint64("fifo_underruns", streamMgr.FIFOUnderruns()),
	)

	if publisher != nil {
		publisher.Close()
	}

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
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

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Anything else is a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
