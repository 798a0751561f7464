package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type Datastore interface {
	DeviceRegistry
	ThresholdRepository
	TelemetryStore
	AccountRepository

	Seed(ctx context.Context, catalog Catalog) error

	// Transaction runs fn against a store bound to a single database transaction.
	// The transaction is committed if fn returns nil and rolled back otherwise.
	Transaction(ctx context.Context, fn func(tx Datastore) error) error
	Close() error
}

type DeviceRegistry interface {
	ResolveDevice(ctx context.Context, name, ipAddress string, location *string) (uint, error)
	GetDeviceByName(ctx context.Context, name string) (Device, error)
}

type ThresholdRepository interface {
	GetThreshold(ctx context.Context, metricTypeID int) (Threshold, error)
}

type TelemetryStore interface {
	AppendTelemetry(ctx context.Context, record *TelemetryRecord) error
	ListTelemetry(ctx context.Context) ([]TelemetryView, error)
}

type AccountRepository interface {
	UsernameExists(ctx context.Context, username string) (bool, error)
	GetRoleID(ctx context.Context, roleName string) (uint, error)
	GetCredentials(ctx context.Context, username string) (Credentials, error)
	CreateAccount(ctx context.Context, info *UserInfo, user *User) error
}

var ErrNotFound = fmt.Errorf("not found")
var ErrAlreadyExists = fmt.Errorf("already exists")
var ErrRepositoryError = fmt.Errorf("could not fetch data from repository")

type datastore struct {
	db *gorm.DB
}

func New(connect ConnectorFunc) (Datastore, error) {
	impl, log, err := connect()
	if err != nil {
		return nil, err
	}

	err = impl.AutoMigrate(
		&Role{}, &UserInfo{}, &User{},
		&MetricType{}, &Threshold{},
		&Device{}, &TelemetryRecord{},
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to migrate database schema")
		return nil, err
	}

	return &datastore{
		db: impl,
	}, nil
}

func (d *datastore) Transaction(ctx context.Context, fn func(tx Datastore) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&datastore{db: tx})
	})
}

func (d *datastore) Close() error {
	sqldb, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqldb.Close()
}
