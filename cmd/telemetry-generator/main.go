package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/application/generator"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
)

const serviceName string = "telemetry-generator"

func main() {
	_ = godotenv.Load()

	listen := os.Getenv("GENERATOR_LISTEN_ADDRESS")
	if listen == "" {
		listen = "127.0.0.1:10250"
	}

	flag.StringVar(&listen, "listen", listen, "address to serve /events on")
	flag.Parse()

	ctx, logger := logging.NewLogger(context.Background(), serviceName, "dev", os.Getenv("LOG_LEVEL"))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g := generator.New(clockwork.NewRealClock(), time.Now().UnixNano())
	go g.Run(ctx)

	r := chi.NewRouter()
	r.Get("/events", generator.EventsHandler(logger, g))

	server := &http.Server{
		Addr:         listen,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		server.Shutdown(shutdownCtx)
	}()

	logger.Info().Msgf("serving fake telemetry on http://%s/events", listen)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("generator stopped")
	}
}
