package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/application/auth"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/application/ingestion"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/application/webevents"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/metrics"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-telemetry-mgmt/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("iot-telemetry-mgmt/api")

const maxBodySize int64 = 10 << 20

// RegisterHandlers mounts the public endpoints on router. The operator endpoints are wrapped
// by gate when it is not nil.
func RegisterHandlers(ctx context.Context, router *chi.Mux, authSvc auth.AuthService, pipeline ingestion.Pipeline, store database.TelemetryStore, broadcaster webevents.Broadcaster, gate func(http.Handler) http.Handler) (*chi.Mux, error) {
	if authSvc == nil || pipeline == nil || store == nil {
		return nil, errors.New("api requires an auth service, an ingestion pipeline and a telemetry store")
	}

	log := logging.GetFromContext(ctx)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	router.Post("/register", registerHandler(log, authSvc))
	router.Post("/login", loginHandler(log, authSvc))

	router.Route("/operator", func(r chi.Router) {
		if gate != nil {
			r.Use(gate)
		}

		r.Post("/telemetry", receiveTelemetryHandler(log, pipeline))
		r.Get("/telemetry", listTelemetryHandler(log, store))

		if broadcaster != nil {
			r.Handle("/telemetry/events", broadcaster.Handler())
		}
	})

	return router, nil
}

func registerHandler(log zerolog.Logger, svc auth.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "register")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		req := types.RegisterRequest{}
		err = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req)
		if err != nil {
			requestLogger.Info().Err(err).Msg("unable to decode registration request")
			writeMessage(w, http.StatusBadRequest, "invalid request body")
			return
		}

		token, err := svc.Register(ctx, req)
		if err != nil {
			requestLogger.Info().Err(err).Str("username", req.Username).Msg("registration failed")
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, types.TokenResponse{Token: token})
	}
}

func loginHandler(log zerolog.Logger, svc auth.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "login")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		req := types.LoginRequest{}
		err = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req)
		if err != nil {
			requestLogger.Info().Err(err).Msg("unable to decode login request")
			writeMessage(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
			return
		}

		token, err := svc.Login(ctx, req.Username, req.Password)
		if err != nil {
			requestLogger.Info().Err(err).Str("username", req.Username).Msg("login failed")
			writeMessage(w, http.StatusUnauthorized, err.Error())
			return
		}

		writeJSON(w, http.StatusOK, types.TokenResponse{Token: token})
	}
}

func receiveTelemetryHandler(log zerolog.Logger, pipeline ingestion.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "receive-telemetry")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		events := []types.TelemetryEvent{}
		err = json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&events)
		if err == nil && events == nil {
			err = errors.New("body is null")
		}
		if err != nil {
			requestLogger.Info().Err(err).Msg("unable to decode telemetry events")
			writeMessage(w, http.StatusBadRequest, "request body must be a JSON array of telemetry events")
			return
		}

		processed, err := pipeline.Ingest(ctx, metrics.SourcePush, events)
		if err != nil {
			requestLogger.Warn().Err(err).Msg("ingestion interrupted")
		}

		writeJSON(w, http.StatusOK, types.IngestResult{
			Received:  len(events),
			Processed: processed,
		})
	}
}

func listTelemetryHandler(log zerolog.Logger, store database.TelemetryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		defer r.Body.Close()

		ctx, span := tracer.Start(r.Context(), "list-telemetry")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()
		_, ctx, requestLogger := tracing.AddTraceIDToLoggerAndStoreInContext(span, log, ctx)

		views, err := store.ListTelemetry(ctx)
		if err != nil {
			requestLogger.Error().Err(err).Msg("could not fetch telemetry")
			writeMessage(w, http.StatusInternalServerError, "storage unavailable")
			return
		}

		writeJSON(w, http.StatusOK, toTelemetryRecords(views))
	}
}
