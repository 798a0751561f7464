package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/application/notifications"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/application/thresholds"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/application/webevents"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/metrics"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/tracing"
	"github.com/diwise/iot-telemetry-mgmt/pkg/types"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("iot-telemetry-mgmt/ingestion")

var ErrInvalidEvent = fmt.Errorf("invalid telemetry event")

type Pipeline interface {
	// Ingest stores the events in order and returns how many of them were stored.
	// A failing event is logged and skipped. An error is only returned if ctx is done
	// before all events have been handled.
	Ingest(ctx context.Context, source string, events []types.TelemetryEvent) (int, error)
}

type pipeline struct {
	store       database.Datastore
	clock       clockwork.Clock
	notifier    notifications.Notifier
	broadcaster webevents.Broadcaster
}

// New creates an ingestion pipeline. notifier and broadcaster may be nil.
func New(store database.Datastore, clock clockwork.Clock, notifier notifications.Notifier, broadcaster webevents.Broadcaster) Pipeline {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &pipeline{
		store:       store,
		clock:       clock,
		notifier:    notifier,
		broadcaster: broadcaster,
	}
}

func (p *pipeline) Ingest(ctx context.Context, source string, events []types.TelemetryEvent) (processed int, err error) {
	ctx, span := tracer.Start(ctx, "ingest")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	span.SetAttributes(attribute.String("source", source), attribute.Int("events", len(events)))

	logger := logging.GetFromContext(ctx).With().Str("source", source).Logger()
	ctx = logging.NewContextWithLogger(ctx, logger)

	metrics.EventsReceived.WithLabelValues(source).Add(float64(len(events)))

	for idx, evt := range events {
		if err = ctx.Err(); err != nil {
			logger.Warn().Int("remaining", len(events)-idx).Msg("ingestion cancelled")
			return processed, err
		}

		timer := prometheus.NewTimer(metrics.IngestLatency)
		record, storeErr := p.storeEvent(ctx, evt)
		timer.ObserveDuration()

		if storeErr != nil {
			reason := "storage"
			if errors.Is(storeErr, ErrInvalidEvent) {
				reason = "invalid"
			}
			metrics.EventsFailed.WithLabelValues(source, reason).Inc()

			logger.Error().Err(storeErr).
				Int("index", idx).
				Str("device_name", evt.DeviceName).
				Int("metric_type_id", evt.MetricTypeID).
				Msg("failed to store telemetry event")
			continue
		}

		processed++
		metrics.EventsStored.WithLabelValues(source).Inc()

		p.afterCommit(ctx, record)
	}

	logger.Debug().Int("received", len(events)).Int("processed", processed).Msg("ingestion done")

	return processed, nil
}

// storeEvent resolves the device, classifies the value and appends the record in one transaction.
func (p *pipeline) storeEvent(ctx context.Context, evt types.TelemetryEvent) (types.TelemetryRecord, error) {
	if err := validate(evt); err != nil {
		return types.TelemetryRecord{}, err
	}

	recordedAt := p.clock.Now().UTC()

	var result types.TelemetryRecord

	err := p.store.Transaction(ctx, func(tx database.Datastore) error {
		deviceID, err := tx.ResolveDevice(ctx, evt.DeviceName, evt.IPAddress, evt.Location)
		if err != nil {
			return fmt.Errorf("could not resolve device: %w", err)
		}

		isAnomaly, err := thresholds.NewEvaluator(tx).Classify(ctx, evt.MetricTypeID, evt.MetricValue)
		if err != nil {
			return fmt.Errorf("could not classify reading: %w", err)
		}

		err = tx.AppendTelemetry(ctx, &database.TelemetryRecord{
			DeviceID:          deviceID,
			MetricTypeID:      evt.MetricTypeID,
			MetricValue:       evt.MetricValue,
			IsAnomaly:         isAnomaly,
			ActionDescription: evt.ActionDescription,
			RecordedAt:        recordedAt,
		})
		if err != nil {
			return fmt.Errorf("could not append record: %w", err)
		}

		device, err := tx.GetDeviceByName(ctx, evt.DeviceName)
		if err != nil {
			return err
		}

		result = types.TelemetryRecord{
			DeviceName:        device.Name,
			IPAddress:         device.IPAddress,
			Location:          device.Location,
			MetricTypeID:      evt.MetricTypeID,
			MetricValue:       evt.MetricValue,
			IsAnomaly:         isAnomaly,
			ActionDescription: evt.ActionDescription,
			RecordedAt:        recordedAt,
		}

		return nil
	})

	return result, err
}

func (p *pipeline) afterCommit(ctx context.Context, record types.TelemetryRecord) {
	logger := logging.GetFromContext(ctx)

	if record.IsAnomaly {
		metrics.AnomaliesDetected.WithLabelValues(strconv.Itoa(record.MetricTypeID)).Inc()

		logger.Info().
			Str("device_name", record.DeviceName).
			Int("metric_type_id", record.MetricTypeID).
			Float64("metric_value", record.MetricValue).
			Msg("anomaly detected")

		if p.notifier != nil {
			err := p.notifier.AnomalyDetected(ctx, types.AnomalyDetected{
				DeviceName:   record.DeviceName,
				IPAddress:    record.IPAddress,
				Location:     record.Location,
				MetricTypeID: record.MetricTypeID,
				MetricValue:  record.MetricValue,
				RecordedAt:   record.RecordedAt,
			})
			if err != nil {
				logger.Warn().Err(err).Msg("anomaly notification was not delivered")
			}
		}
	}

	if p.broadcaster != nil {
		if err := p.broadcaster.RecordStored(record); err != nil {
			logger.Warn().Err(err).Msg("failed to publish web event")
		}
	}
}

func validate(evt types.TelemetryEvent) error {
	if strings.TrimSpace(evt.DeviceName) == "" {
		return fmt.Errorf("%w: device_name is required", ErrInvalidEvent)
	}

	if strings.TrimSpace(evt.IPAddress) == "" {
		return fmt.Errorf("%w: ip_address is required", ErrInvalidEvent)
	}

	return nil
}
