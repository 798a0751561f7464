package database

import (
	"context"
	"errors"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"gorm.io/gorm"
)

// GetThreshold returns ErrNotFound when no threshold is configured for the metric type.
func (d *datastore) GetThreshold(ctx context.Context, metricTypeID int) (Threshold, error) {
	logger := logging.GetFromContext(ctx)

	var threshold = Threshold{}

	result := d.db.WithContext(ctx).
		Where("metric_type_id = ?", metricTypeID).
		First(&threshold)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Threshold{}, ErrNotFound
		}

		logger.Error().Err(result.Error).Int("metric_type_id", metricTypeID).Msg("gorm error")

		return Threshold{}, ErrRepositoryError
	}

	return threshold, nil
}
