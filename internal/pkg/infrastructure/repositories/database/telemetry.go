package database

import (
	"context"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"gorm.io/gorm/clause"
)

func (d *datastore) AppendTelemetry(ctx context.Context, record *TelemetryRecord) error {
	logger := logging.GetFromContext(ctx)

	err := d.db.WithContext(ctx).
		Omit(clause.Associations).
		Create(record).
		Error
	if err != nil {
		logger.Error().Err(err).
			Uint("device_id", record.DeviceID).
			Int("metric_type_id", record.MetricTypeID).
			Msg("failed to store telemetry record")
		return ErrRepositoryError
	}

	return nil
}

// ListTelemetry returns every stored record joined with its device, newest first.
func (d *datastore) ListTelemetry(ctx context.Context) ([]TelemetryView, error) {
	logger := logging.GetFromContext(ctx)

	var views []TelemetryView

	result := d.db.WithContext(ctx).
		Table("telemetry_data AS t").
		Select(`t.id, d.device_name, d.ip_address, d.location, t.metric_type_id,
			t.metric_value, t.is_anomaly, t.action_description, t.recorded_at`).
		Joins("JOIN devices AS d ON d.id = t.device_id").
		Order("t.recorded_at DESC, t.id DESC").
		Scan(&views)

	if result.Error != nil {
		logger.Error().Err(result.Error).Msg("gorm error")
		return nil, ErrRepositoryError
	}

	if views == nil {
		views = []TelemetryView{}
	}

	return views, nil
}
