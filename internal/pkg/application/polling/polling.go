package polling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/application/ingestion"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/metrics"
	"github.com/diwise/iot-telemetry-mgmt/pkg/client"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	DefaultInterval = 20 * time.Second
	DefaultTimeout  = 10 * time.Second
)

type Poller interface {
	// Start launches the polling loop in the background. The first fetch is made immediately.
	Start(ctx context.Context)
	// Stop signals the loop to exit and waits for it, or for ctx to be done.
	Stop(ctx context.Context) error
}

type poller struct {
	source   client.TelemetrySourceClient
	pipeline ingestion.Pipeline
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	started bool
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

func New(source client.TelemetrySourceClient, pipeline ingestion.Pipeline, clock clockwork.Clock, interval, timeout time.Duration) Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &poller{
		source:   source,
		pipeline: pipeline,
		clock:    clock,
		interval: interval,
		timeout:  timeout,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

func (p *poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}
	p.started = true

	logger := logging.GetFromContext(ctx).With().Str("component", "poller").Logger()
	ctx = logging.NewContextWithLogger(ctx, logger)

	logger.Info().Msgf("polling telemetry source every %s", p.interval)

	go p.supervise(ctx, logger)
}

func (p *poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	p.once.Do(func() { close(p.done) })

	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("poller did not stop in time: %w", ctx.Err())
	}
}

// supervise restarts the loop if a tick panics, until Stop is called or ctx is done.
func (p *poller) supervise(ctx context.Context, logger zerolog.Logger) {
	defer close(p.stopped)

	immediate := true

	for {
		if p.runSafely(ctx, logger, immediate) {
			logger.Info().Msg("poller stopped")
			return
		}

		metrics.PollTicks.WithLabelValues("panic").Inc()
		logger.Warn().Msg("restarting poller")
		immediate = false
	}
}

func (p *poller) runSafely(ctx context.Context, logger zerolog.Logger, immediate bool) (exited bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Msgf("recovered from panic in poller: %v", r)
			exited = false
		}
	}()

	p.run(ctx, immediate)

	return true
}

func (p *poller) run(ctx context.Context, immediate bool) {
	if immediate {
		p.tick(ctx)
	}

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-p.clock.After(p.interval):
			p.tick(ctx)
		}
	}
}

// tick fetches one batch from the source and feeds it to the pipeline. Failures are
// logged and counted, the next tick runs regardless.
func (p *poller) tick(ctx context.Context) {
	logger := logging.GetFromContext(ctx)

	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	events, err := p.source.FetchEvents(fetchCtx)
	if err != nil {
		outcome := "source_unavailable"
		if errors.Is(err, client.ErrMalformedPayload) {
			outcome = "malformed_payload"
		}
		metrics.PollTicks.WithLabelValues(outcome).Inc()

		logger.Error().Err(err).Msg("failed to fetch telemetry events")
		return
	}

	metrics.PollTicks.WithLabelValues("ok").Inc()

	if len(events) == 0 {
		logger.Debug().Msg("no new telemetry events")
		return
	}

	processed, err := p.pipeline.Ingest(ctx, metrics.SourcePoll, events)
	if err != nil {
		logger.Warn().Err(err).Msg("ingestion of polled events was interrupted")
	}

	logger.Info().Int("received", len(events)).Int("processed", processed).Msg("polled telemetry ingested")
}
