package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/KioskBridge/backend/internal/infrastructure/server"
	"go.uber.org/zap"
)

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		logger = logging.NewDefault()
		logger.Warn("Invalid logging config, using defaults", zap.Error(err))
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		stop()
		os.Exit(1)
	}
}

// loadConfig reads env or file config, applies flag overrides and validates
// the result. Flags override env and file config.
func loadConfig(args []string) (*config.Config, error) {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configFile := fs.String("config", "", "YAML config file (overrides CONFIG_FILE)")
	port := fs.String("port", "", "Server port")
	driver := fs.String("driver", "", "Browser driver: playwright or sandbox")
	dev := fs.Bool("dev", false, "Development mode (console logs, debug level)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.LoadFile(*configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if *port != "" {
		cfg.Server.Port = *port
	}
	if *driver != "" {
		cfg.Browser.Driver = *driver
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}
