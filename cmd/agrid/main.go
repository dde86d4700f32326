package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agrichain/config"
	"agrichain/core"
	"agrichain/observability/logging"
	telemetry "agrichain/observability/otel"
	"agrichain/rpc"
	"agrichain/services/keeper"
	"agrichain/storage"
)

const (
	serviceName = "agrid"
	envVar      = "AGRICHAIN_ENV"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "agrid: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := strings.TrimSpace(os.Getenv(envVar))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.SetupWithOptions(serviceName, env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	constants, err := cfg.Constants()
	if err != nil {
		return err
	}
	db, err := storage.Open(cfg.Node.Backend, cfg.Node.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	node, err := core.NewNode(db, constants, core.WithLogger(logger), core.WithStreamLimit(cfg.RPC.StreamHistory))
	if err != nil {
		db.Close()
		return fmt.Errorf("create node: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Warn("node close failed", slog.Any("error", err))
		}
	}()

	initialized, err := node.Initialized()
	if err != nil {
		return err
	}
	if !initialized {
		spec, err := cfg.GenesisSpec()
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if _, err := node.InitGenesis(ctx, spec); err != nil {
			return fmt.Errorf("apply genesis: %w", err)
		}
		logger.Info("genesis applied",
			slog.String("owner", spec.Owner.Hex()),
			slog.Int("allocations", len(spec.Allocations)),
			slog.Int("participants", len(spec.Participants)))
	}

	if cfg.Keeper.Enabled {
		operator, err := cfg.KeeperOperator()
		if err != nil {
			return err
		}
		k, err := keeper.New(node, keeper.Config{Schedule: cfg.Keeper.Schedule, Operator: operator}, logger)
		if err != nil {
			return err
		}
		if err := k.Start(ctx); err != nil {
			return err
		}
		defer k.Stop()
		logger.Info("expiry keeper started", slog.String("schedule", cfg.Keeper.Schedule), slog.Time("next", k.NextRun()))
	}

	server := rpc.NewServer(node, rpc.Config{
		Auth: rpc.AuthConfig{
			HMACSecret: cfg.RPC.JWTSecret,
			Issuer:     cfg.RPC.JWTIssuer,
		},
		RequestsPerSecond: cfg.RPC.RequestsPerSecond,
		Burst:             cfg.RPC.Burst,
		AnonymousReads:    cfg.RPC.AnonymousReads,
		ReadTimeout:       time.Duration(cfg.RPC.ReadTimeoutSeconds) * time.Second,
		Tracing:           cfg.Telemetry.Traces,
	}, logger)
	if err := server.Start(ctx, cfg.RPC.ListenAddress); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("rpc server: %w", err)
	}
	logger.Info("shutting down")
	return nil
}
