package database

import (
	"context"
	"errors"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"github.com/diwise/iot-telemetry-mgmt/pkg/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ResolveDevice returns the id of the device called name, creating it first if it is unknown.
// An existing device is returned as is, the address and location it was created with are kept.
func (d *datastore) ResolveDevice(ctx context.Context, name, ipAddress string, location *string) (uint, error) {
	logger := logging.GetFromContext(ctx)

	device := Device{
		Name:      name,
		IPAddress: ipAddress,
		Location:  location,
		Status:    types.DeviceStatusActive,
	}

	err := d.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_name"}},
			DoNothing: true,
		}).
		Create(&device).
		Error
	if err != nil {
		logger.Error().Err(err).Str("device_name", name).Msg("gorm error")
		return 0, ErrRepositoryError
	}

	// the insert is a no-op when another writer got there first, so always read the id back
	existing, err := d.GetDeviceByName(ctx, name)
	if err != nil {
		return 0, err
	}

	return existing.ID, nil
}

func (d *datastore) GetDeviceByName(ctx context.Context, name string) (Device, error) {
	logger := logging.GetFromContext(ctx)

	var device = Device{}

	result := d.db.WithContext(ctx).
		Where("device_name = ?", name).
		First(&device)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Device{}, ErrNotFound
		}

		logger.Error().Err(result.Error).Msg("gorm error")

		return Device{}, ErrRepositoryError
	}

	return device, nil
}
