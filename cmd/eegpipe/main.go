package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/eegpipe/internal/app"
	"codeberg.org/mutker/eegpipe/internal/config"
	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/logger"
	"codeberg.org/mutker/eegpipe/internal/pid"
	"github.com/spf13/pflag"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(level, logger.IsService())
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(cfg.PIDFile); err != nil {
		if appErr, ok := err.(errors.Error); ok {
			logger.FatalWithCode(appErr).Msg("Another instance is running")
		}
		logger.Fatal().Err(err).Msg("Failed to write PID file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	code := 0
	if err := run(ctx); err != nil {
		if appErr, ok := err.(errors.Error); ok {
			logger.ErrorWithCode(appErr).Msg("eegpipe stopped with an error")
		} else {
			logger.Error().Err(err).Msg("eegpipe stopped with an error")
		}
		code = 1
	}

	cleanup()
	if code != 0 {
		os.Exit(code)
	}
}

func run(ctx context.Context) error {
	a, err := app.Build(cfg, os.Stdout)
	if err != nil {
		return err
	}

	return a.Run(ctx)
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func cleanup() {
	if err := pid.Remove(cfg.PIDFile); err != nil {
		logger.Error().Err(err).Msg("Failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
}
