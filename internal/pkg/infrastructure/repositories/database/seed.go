package database

import (
	"context"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Catalog struct {
	Roles       []string
	MetricTypes []MetricTypeEntry
}

type MetricTypeEntry struct {
	ID            int
	Name          string
	Description   *string
	WarningLevel  *decimal.Decimal
	CriticalLevel *decimal.Decimal
}

// Seed inserts the roles, metric types and thresholds of the catalog that are not already stored.
// Rows that exist are never modified.
func (d *datastore) Seed(ctx context.Context, catalog Catalog) error {
	logger := logging.GetFromContext(ctx)

	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, name := range catalog.Roles {
			err := insertIfMissing(tx, "role_name", &Role{Name: name})
			if err != nil {
				logger.Error().Err(err).Str("role", name).Msg("failed to seed role")
				return err
			}
		}

		for _, mt := range catalog.MetricTypes {
			err := insertIfMissing(tx, "id", &MetricType{ID: mt.ID, Name: mt.Name, Description: mt.Description})
			if err != nil {
				logger.Error().Err(err).Str("metric_type", mt.Name).Msg("failed to seed metric type")
				return err
			}

			if mt.WarningLevel == nil && mt.CriticalLevel == nil {
				continue
			}

			threshold := &Threshold{
				MetricTypeID:  mt.ID,
				WarningLevel:  nullDecimal(mt.WarningLevel),
				CriticalLevel: nullDecimal(mt.CriticalLevel),
			}

			err = insertIfMissing(tx, "metric_type_id", threshold)
			if err != nil {
				logger.Error().Err(err).Str("metric_type", mt.Name).Msg("failed to seed threshold")
				return err
			}
		}

		return nil
	})
}

func insertIfMissing(tx *gorm.DB, column string, value any) error {
	return tx.Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: column}},
			DoNothing: true,
		}).
		Create(value).
		Error
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
