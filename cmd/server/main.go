package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/awehttam/walkie-talkie-html5-sub000/internal/config"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/identity"
	"github.com/awehttam/walkie-talkie-html5-sub000/internal/otelutil"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if err := otelutil.Init(); err != nil {
		log.Debug().Err(err).Msg("tracing disabled")
	}
	defer otelutil.Flush()

	var verifier identity.Verifier
	if path := os.Getenv("PTT_AUTH_TOKENS_FILE"); path != "" {
		verifier, err = newFileVerifier(path)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load auth tokens")
		}
	}

	srv, err := NewServer(cfg, verifier, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build server")
	}

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
	log.Info().Msg("server exited gracefully")
}
