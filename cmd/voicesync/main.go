package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/voicesync/internal/adapters/http"
	"github.com/dkeye/voicesync/internal/app/client"
	"github.com/dkeye/voicesync/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	c, err := client.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build client")
	}
	if err := c.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start client")
	}
	defer c.Close()

	var srv *http.Server
	if cfg.ControlAddr != "" {
		srv = &http.Server{
			Addr:    cfg.ControlAddr,
			Handler: router.SetupRouter(ctx, cfg, c),
		}
		go func() {
			log.Info().Str("addr", cfg.ControlAddr).Msg("control API started")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("control API error")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("control API forced to shutdown")
		}
	}
	log.Info().Msg("voicesync exited gracefully")
}
