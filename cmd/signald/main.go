package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/mindflow/call_core/pkg/signalserver"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	debug := flag.Bool("debug", false, "enable debug logging")
	pretty := flag.Bool("pretty", false, "human-readable log output")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	var out = os.Stderr
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if *pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen})
	}

	config := signalserver.DefaultConfig()
	config.Logger = logger.With().Str("component", "signalserver").Logger()

	// Demo authenticator: tokens of the form "user:<id>". Swap in a
	// real token service before exposing this anywhere.
	server := signalserver.NewServer(config, signalserver.AuthenticatorFunc(func(token string) (string, error) {
		if id, ok := strings.CutPrefix(token, "user:"); ok && id != "" {
			return id, nil
		}
		return "", signalserver.ErrInvalidToken
	}))
	server.Start()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/ws", server)

	httpServer := &http.Server{
		Addr:    *addr,
		Handler: r,
	}

	go func() {
		logger.Info().Str("addr", *addr).Msg("signaling relay listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	server.Close()
	logger.Info().Msg("bye")
}
