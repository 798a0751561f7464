package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/application"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/application/auth"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/application/ingestion"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/application/notifications"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/application/polling"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/application/webevents"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/router"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/presentation/api"
	apiauth "github.com/diwise/iot-telemetry-mgmt/internal/pkg/presentation/api/auth"
	"github.com/diwise/iot-telemetry-mgmt/pkg/client"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const serviceName string = "iot-telemetry-mgmt"

type flagType int
type flagMap map[flagType]string

const (
	listenAddress flagType = iota
	servicePort
	controlPort
	logLevel

	configurationFile
	policiesFile

	sourceURL
	sourceTokenURL
	sourceClientID
	sourceClientSecret
	pollingEnabled
	pollInterval
	pollTimeout

	jwtSecret
	jwtPreviousSecret
	defaultRole
	passwordHashCost
	requireOperatorToken

	corsAllowedOrigins
	rabbitMQURL
)

func defaultFlags() flagMap {
	return flagMap{
		listenAddress: "0.0.0.0",
		servicePort:   "8080",
		controlPort:   "8000",
		logLevel:      "info",

		configurationFile: "",
		policiesFile:      "",

		sourceURL:          "http://127.0.0.1:10250",
		sourceTokenURL:     "",
		sourceClientID:     "",
		sourceClientSecret: "",
		pollingEnabled:     "true",
		pollInterval:       "20s",
		pollTimeout:        "10s",

		jwtSecret:            "",
		jwtPreviousSecret:    "",
		defaultRole:          "operator",
		passwordHashCost:     "12",
		requireOperatorToken: "false",

		corsAllowedOrigins: "http://localhost:5173",
		rabbitMQURL:        "",
	}
}

func main() {
	// a missing .env file is not an error
	_ = godotenv.Load()

	ctx, flags := parseExternalConfig(context.Background(), defaultFlags())

	serviceVersion := version()
	ctx, logger := logging.NewLogger(ctx, serviceName, serviceVersion, flags[logLevel])
	logger.Info().Msg("starting up ...")

	cleanup, err := tracing.Init(ctx, logger, serviceName, serviceVersion)
	exitIf(err, logger, "failed to init tracing")
	defer cleanup()

	cfg, err := loadConfigurationFile(flags[configurationFile])
	exitIf(err, logger, "could not load configuration file")

	var policies io.Reader
	if flags[policiesFile] != "" {
		f, err := os.Open(flags[policiesFile])
		exitIf(err, logger, "unable to open opa policy file")
		defer f.Close()
		policies = f
	}

	connect := database.NewPostgreSQLConnector(ctx, logger, database.LoadConfigFromEnv())

	svc, err := initialize(ctx, flags, cfg, policies, connect)
	exitIf(err, logger, "failed to initialize service")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = svc.Run(ctx)
	exitIf(err, logger, "service stopped with an error")
}

type service struct {
	log         zerolog.Logger
	store       database.Datastore
	poller      polling.Poller
	broadcaster webevents.Broadcaster
	publisher   *notifications.TopicPublisher

	public  *http.Server
	control *http.Server
}

func initialize(ctx context.Context, flags flagMap, cfg *application.Config, policies io.Reader, connect database.ConnectorFunc) (*service, error) {
	log := logging.GetFromContext(ctx)

	store, err := database.New(connect)
	if err != nil {
		return nil, fmt.Errorf("could not create or connect to database: %w", err)
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	if err = store.Seed(ctx, catalog); err != nil {
		return nil, fmt.Errorf("failed to seed catalog: %w", err)
	}

	clock := clockwork.NewRealClock()

	issuer, err := auth.NewTokenIssuer(flags[jwtSecret], flags[jwtPreviousSecret], clock)
	if err != nil {
		return nil, err
	}

	cost, _ := strconv.Atoi(flags[passwordHashCost])
	authSvc := auth.NewAuthService(store, issuer, flags[defaultRole], cost)

	if err = authSvc.EnsureDefaultRole(ctx); err != nil {
		return nil, err
	}

	s := &service{
		log:         log,
		store:       store,
		broadcaster: webevents.New(),
	}

	sinks := []notifications.Sink{}

	ceSender, err := notifications.NewCloudEventSender(cfg.Subscribers("telemetry.anomaly"))
	if err != nil {
		return nil, err
	}
	if ceSender != nil {
		sinks = append(sinks, ceSender)
	}

	if flags[rabbitMQURL] != "" {
		s.publisher, err = notifications.NewTopicPublisher(flags[rabbitMQURL], log)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s.publisher)
	}

	pipeline := ingestion.New(store, clock, notifications.New(sinks...), s.broadcaster)

	if flags[pollingEnabled] == "true" {
		interval, err := time.ParseDuration(flags[pollInterval])
		if err != nil {
			return nil, fmt.Errorf("bad poll interval: %w", err)
		}

		timeout, err := time.ParseDuration(flags[pollTimeout])
		if err != nil {
			return nil, fmt.Errorf("bad poll timeout: %w", err)
		}

		options := []client.Option{}
		if flags[sourceTokenURL] != "" {
			options = append(options, client.WithClientCredentials(flags[sourceTokenURL], flags[sourceClientID], flags[sourceClientSecret]))
		}

		source := client.NewTelemetrySourceClient(flags[sourceURL], timeout, options...)
		s.poller = polling.New(source, pipeline, clock, interval, timeout)
	}

	var gate func(http.Handler) http.Handler
	if flags[requireOperatorToken] == "true" {
		gate, err = apiauth.NewOperatorGate(ctx, issuer, policies)
		if err != nil {
			return nil, fmt.Errorf("failed to create operator gate: %w", err)
		}
	}

	origins := strings.Split(flags[corsAllowedOrigins], ",")
	publicRouter, err := api.RegisterHandlers(ctx, router.New(serviceName, origins), authSvc, pipeline, store, s.broadcaster, gate)
	if err != nil {
		return nil, err
	}

	s.public = &http.Server{
		Addr:         net.JoinHostPort(flags[listenAddress], flags[servicePort]),
		Handler:      publicRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the event stream keeps responses open
		IdleTimeout:  60 * time.Second,
	}

	s.control = &http.Server{
		Addr:         net.JoinHostPort(flags[listenAddress], flags[controlPort]),
		Handler:      controlRouter(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s, nil
}

func controlRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Run serves both listeners and starts polling until ctx is done or a listener fails.
func (s *service) Run(ctx context.Context) error {
	errs := make(chan error, 2)

	for _, srv := range []*http.Server{s.control, s.public} {
		go func(srv *http.Server) {
			s.log.Info().Msgf("listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}(srv)
	}

	if s.poller != nil {
		s.poller.Start(ctx)
	}

	var err error

	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutting down")
	case err = <-errs:
		s.log.Error().Err(err).Msg("listener failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.shutdown(shutdownCtx)

	return err
}

func (s *service) shutdown(ctx context.Context) {
	if s.poller != nil {
		if err := s.poller.Stop(ctx); err != nil {
			s.log.Error().Err(err).Msg("failed to stop poller")
		}
	}

	s.broadcaster.Shutdown()

	for _, srv := range []*http.Server{s.public, s.control} {
		if err := srv.Shutdown(ctx); err != nil {
			s.log.Error().Err(err).Msgf("failed to shut down %s", srv.Addr)
		}
	}

	if s.publisher != nil {
		s.publisher.Close()
	}

	if err := s.store.Close(); err != nil {
		s.log.Error().Err(err).Msg("failed to close database")
	}
}

func loadConfigurationFile(path string) (*application.Config, error) {
	if path == "" {
		return application.DefaultConfig(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return application.LoadConfiguration(f)
}

func parseExternalConfig(ctx context.Context, flags flagMap) (context.Context, flagMap) {
	envOrDef := func(key, def string) string {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v
		}
		return def
	}

	// Allow environment variables to override certain defaults
	flags[listenAddress] = envOrDef("LISTEN_ADDRESS", flags[listenAddress])
	flags[servicePort] = envOrDef("SERVICE_PORT", flags[servicePort])
	flags[controlPort] = envOrDef("CONTROL_PORT", flags[controlPort])
	flags[logLevel] = envOrDef("LOG_LEVEL", flags[logLevel])

	flags[configurationFile] = envOrDef("CONFIG_FILE", flags[configurationFile])
	flags[policiesFile] = envOrDef("POLICIES_FILE", flags[policiesFile])

	flags[sourceURL] = envOrDef("TELEMETRY_SOURCE_URL", flags[sourceURL])
	flags[sourceTokenURL] = envOrDef("TELEMETRY_SOURCE_TOKEN_URL", flags[sourceTokenURL])
	flags[sourceClientID] = envOrDef("TELEMETRY_SOURCE_CLIENT_ID", flags[sourceClientID])
	flags[sourceClientSecret] = envOrDef("TELEMETRY_SOURCE_CLIENT_SECRET", flags[sourceClientSecret])
	flags[pollingEnabled] = envOrDef("POLLING_ENABLED", flags[pollingEnabled])
	flags[pollInterval] = envOrDef("POLL_INTERVAL", flags[pollInterval])
	flags[pollTimeout] = envOrDef("POLL_TIMEOUT", flags[pollTimeout])

	flags[jwtSecret] = envOrDef("JWT_SIGNING_SECRET", flags[jwtSecret])
	flags[jwtPreviousSecret] = envOrDef("JWT_PREVIOUS_SIGNING_SECRET", flags[jwtPreviousSecret])
	flags[defaultRole] = envOrDef("DEFAULT_ROLE", flags[defaultRole])
	flags[passwordHashCost] = envOrDef("PASSWORD_HASH_COST", flags[passwordHashCost])
	flags[requireOperatorToken] = envOrDef("REQUIRE_OPERATOR_TOKEN", flags[requireOperatorToken])

	flags[corsAllowedOrigins] = envOrDef("CORS_ALLOWED_ORIGINS", flags[corsAllowedOrigins])
	flags[rabbitMQURL] = envOrDef("RABBITMQ_URL", flags[rabbitMQURL])

	apply := func(f flagType) func(string) error {
		return func(value string) error {
			flags[f] = value
			return nil
		}
	}

	// Allow command line arguments to override defaults and environment variables
	flag.Func("config", "application configuration file (roles, metric types, notifications)", apply(configurationFile))
	flag.Func("policies", "an authorization policy file", apply(policiesFile))
	flag.Func("source", "url of the telemetry source to poll", apply(sourceURL))
	flag.Func("poll-interval", "time between polls of the telemetry source", apply(pollInterval))
	flag.Func("log-level", "log level (debug, info, warn, error)", apply(logLevel))
	flag.Parse()

	return ctx, flags
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	infoMap := map[string]string{}
	for _, s := range buildInfo.Settings {
		infoMap[s.Key] = s.Value
	}

	sha := infoMap["vcs.revision"]
	if infoMap["vcs.modified"] == "true" {
		sha += "+"
	}

	return sha
}

func exitIf(err error, logger zerolog.Logger, msg string) {
	if err != nil {
		logger.Error().Err(err).Msg(msg)
		time.Sleep(2 * time.Second)
		os.Exit(1)
	}
}
