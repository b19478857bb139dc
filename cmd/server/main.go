package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/npezzotti/go-meet/internal/api"
	"github.com/npezzotti/go-meet/internal/config"
	"github.com/npezzotti/go-meet/internal/database"
	"github.com/npezzotti/go-meet/internal/logging"
	"github.com/npezzotti/go-meet/internal/meeting"
	"github.com/npezzotti/go-meet/internal/server"
	"github.com/npezzotti/go-meet/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append((*s)[:0], strings.Split(value, ",")...)
	return nil
}

func main() {
	opts, err := config.LoadOptions(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	allowedOrigins := stringSliceFlag(opts.AllowedOrigins)
	flag.StringVar(&opts.ServerAddr, "addr", opts.ServerAddr, "server address")
	flag.StringVar(&opts.StoreDriver, "store", opts.StoreDriver, "store driver: postgres or badger")
	flag.StringVar(&opts.DatabaseDSN, "dsn", opts.DatabaseDSN, "postgres connection string")
	flag.StringVar(&opts.BadgerPath, "badger-path", opts.BadgerPath, "badger data directory, empty for in-memory")
	flag.StringVar(&opts.SigningKey, "signing-key", opts.SigningKey, "base64 encoded signing key")
	flag.StringVar(&opts.HostUsername, "host", opts.HostUsername, "username allowed to launch the meeting")
	flag.DurationVar(&opts.TypingTimeout, "typing-timeout", opts.TypingTimeout, "typing indicator expiry")
	flag.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "log level")
	flag.StringVar(&opts.LogFormat, "log-format", opts.LogFormat, "log format: json or console")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()
	opts.AllowedOrigins = allowedOrigins

	logger, err := logging.New(opts.LogLevel, opts.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}

	if err := run(logger, opts); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func openStore(logger zerolog.Logger, cfg *config.Config) (database.MeetRepository, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		repo, err := database.NewPgMeetRepository(cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		db, err := database.OpenBadger(cfg.BadgerPath, logger)
		if err != nil {
			return nil, err
		}
		return database.NewBadgerMeetRepository(db), nil
	}
}

func run(logger zerolog.Logger, opts config.Options) error {
	cfg, err := config.NewConfig(opts)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	db, err := openStore(logger, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	m, err := meeting.New(startCtx, logger, db, statsUpdater, meeting.Config{
		HostUsername:  cfg.HostUsername,
		TypingTimeout: cfg.TypingTimeout,
		MaxTextLength: cfg.MaxTextLength,
		MaxImageBytes: cfg.MaxImageBytes,
	})
	cancelStart()
	if err != nil {
		return fmt.Errorf("load meeting: %w", err)
	}
	defer m.Close()

	meetServer := server.NewMeetServer(logger, m, statsUpdater)
	go meetServer.Run()

	srv := api.NewGoMeetApp(mux, logger, meetServer, m, db, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server")
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}

	logger.Info().Msg("shutting down meet server...")
	if err := meetServer.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("meet server shutdown: %w", err)
	}

	logger.Info().Msg("shutdown complete")
	return nil
}
