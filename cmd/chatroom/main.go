package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/gommon/log"

	"github.com/vultisig/vultisig-chatroom/chat"
	"github.com/vultisig/vultisig-chatroom/config"
	"github.com/vultisig/vultisig-chatroom/presence"
	"github.com/vultisig/vultisig-chatroom/server"
	"github.com/vultisig/vultisig-chatroom/session"
	"github.com/vultisig/vultisig-chatroom/storage"
)

func main() {
	var cfgFile string
	flag.StringVar(&cfgFile, "config", "config.json", "config file")
	flag.Parse()

	if err := run(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "chatroom terminated with error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgFile string) error {
	// a missing .env is fine, the environment may already be set
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fail to load .env, err: %w", err)
	}
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnvironment(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config, err: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("fail to open %s storage, err: %w", cfg.StorageDriver, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Println("fail to close storage", err)
		}
	}()

	var tokens *session.Issuer
	if cfg.Session.Secret != "" {
		tokens = session.NewIssuer(cfg.Session.Secret, cfg.Session.TTL.Duration())
	}
	s := server.NewServer(cfg.Port, chat.NewService(store), tokens, parseLevel(cfg.LogLevel))

	if cfg.Presence.Enabled {
		sweeper := presence.NewSweeper(store, s.Logger(),
			cfg.Presence.SweepInterval.Duration(), cfg.Presence.InactivityTimeout.Duration())
		go sweeper.Run(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.StartServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.Logger().Info("shutting down")
	case err := <-errChan:
		return err
	}
	return s.StopServer()
}

func parseLevel(level string) log.Lvl {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}
