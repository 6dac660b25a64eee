package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/phonepilot/phonepilot/internal/agent"
	"github.com/phonepilot/phonepilot/internal/device"
	"github.com/phonepilot/phonepilot/internal/device/adb"
	"github.com/phonepilot/phonepilot/internal/device/hdc"
	"github.com/phonepilot/phonepilot/internal/device/xctest"
	"github.com/phonepilot/phonepilot/internal/infrastructure/config"
	"github.com/phonepilot/phonepilot/internal/infrastructure/logging"
	"github.com/phonepilot/phonepilot/internal/infrastructure/monitoring"
	"github.com/phonepilot/phonepilot/internal/model"
	"github.com/phonepilot/phonepilot/internal/server"
)

func main() {
	configPath := flag.String("config", "", "TOML config file overlaying environment configuration")
	port := flag.String("port", "", "Listen port, overrides configuration")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *configPath != "" {
		if err := config.LoadFile(cfg, *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	srv, err := build(cfg, log)
	if err != nil {
		log.Fatal("Startup failed", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case sig := <-sigChan:
		log.Info("Shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("Shutdown incomplete", zap.Error(err))
		}
	case err := <-errChan:
		if err != nil {
			log.Fatal("Server error", zap.Error(err))
		}
	}
}

func build(cfg *config.Config, log *logging.Logger) (*server.Server, error) {
	catalog := device.EmptyCatalog()
	if cfg.Device.AppCatalogPath != "" {
		loaded, err := device.LoadCatalog(cfg.Device.AppCatalogPath)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}

	runner := device.NewExecRunner(cfg.Device.CommandTimeout)

	var backends []device.Backend

	adbBackend, err := adb.New(runner, log, adb.Options{
		Path:              cfg.Device.ADBPath,
		ForegroundPattern: cfg.Device.ForegroundPattern,
		Catalog:           catalog,
		ChunkSize:         cfg.Device.TextChunkSize,
	})
	if err != nil {
		return nil, err
	}
	backends = append(backends, adbBackend)

	backends = append(backends, hdc.New(runner, log, hdc.Options{
		Path:      cfg.Device.HDCPath,
		Catalog:   catalog,
		ChunkSize: cfg.Device.TextChunkSize,
	}))

	if cfg.Device.XCTestURL != "" {
		backends = append(backends, xctest.New(log, xctest.Options{
			BaseURL: cfg.Device.XCTestURL,
			Timeout: cfg.Device.CaptureTimeout,
			Catalog: catalog,
		}))
	}

	manager := device.NewManager(log, backends...)
	manager.ProbeTimeout = cfg.Device.ProbeTimeout

	mdl := model.New(log, model.Options{
		BaseURL:    cfg.Model.BaseURL,
		Model:      cfg.Model.Name,
		APIKey:     cfg.Model.APIKey,
		Timeout:    cfg.Model.Timeout,
		MaxRetries: cfg.Model.MaxRetries,
		Stream:     cfg.Model.Stream,
		RatePerSec: cfg.Model.RatePerSec,
		RateBurst:  cfg.Model.RateBurst,
	})

	var audit *agent.Audit
	if cfg.Agent.AuditDir != "" {
		audit, err = agent.NewAudit(cfg.Agent.AuditDir)
		if err != nil {
			return nil, err
		}
	}

	metrics := monitoring.NewMetrics()

	coordinator := agent.NewCoordinator(manager, mdl,
		agent.LoopConfig{
			MaxSteps:      cfg.Agent.MaxSteps,
			DecodeRetries: cfg.Agent.DecodeRetries,
			StepDelay:     cfg.Agent.StepDelay,
			LoopWindow:    cfg.Agent.LoopWindow,
			StuckScreens:  cfg.Agent.StuckScreens,
		},
		agent.PromptConfig{
			Language:     model.Language(cfg.Agent.Language),
			Thinking:     cfg.Model.Thinking,
			HistoryTurns: cfg.Model.HistoryTurn,
			EmbedSystem:  cfg.Model.Thirdparty,
		},
		log, metrics, audit)

	return server.New(cfg.Server, cfg.RateLimit, coordinator, manager, metrics, log), nil
}
