package thresholds

import (
	"context"
	"errors"
	"math"
	"strconv"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/shopspring/decimal"
)

// IsAnomaly reports whether value reaches the critical level of threshold.
// A threshold without a critical level, or one that does not fit in a float64, never classifies.
func IsAnomaly(threshold database.Threshold, value float64) bool {
	critical, ok := toFloat(threshold.CriticalLevel)
	if !ok {
		return false
	}
	return value >= critical
}

type Evaluator interface {
	Classify(ctx context.Context, metricTypeID int, value float64) (bool, error)
}

type evaluator struct {
	repo database.ThresholdRepository
}

func NewEvaluator(repo database.ThresholdRepository) Evaluator {
	return &evaluator{repo: repo}
}

// Classify looks up the threshold for the metric type and applies IsAnomaly.
// Metric types without a threshold are not anomalous. Only storage failures are returned as errors.
func (e *evaluator) Classify(ctx context.Context, metricTypeID int, value float64) (bool, error) {
	logger := logging.GetFromContext(ctx).With().Int("metric_type_id", metricTypeID).Logger()

	threshold, err := e.repo.GetThreshold(ctx, metricTypeID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			logger.Debug().Msg("no threshold configured")
			return false, nil
		}
		return false, err
	}

	if !threshold.CriticalLevel.Valid {
		logger.Debug().Msg("threshold has no critical level")
		return false, nil
	}

	if _, ok := toFloat(threshold.CriticalLevel); !ok {
		logger.Warn().Str("critical_level", threshold.CriticalLevel.Decimal.String()).Msg("critical level can not be represented as a float")
		return false, nil
	}

	return IsAnomaly(threshold, value), nil
}

func toFloat(level decimal.NullDecimal) (float64, bool) {
	if !level.Valid {
		return 0, false
	}

	f, err := strconv.ParseFloat(level.Decimal.String(), 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}

	return f, true
}
