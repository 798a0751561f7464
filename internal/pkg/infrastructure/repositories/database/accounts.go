package database

import (
	"context"
	"errors"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (d *datastore) UsernameExists(ctx context.Context, username string) (bool, error) {
	logger := logging.GetFromContext(ctx)

	var count int64
	err := d.db.WithContext(ctx).
		Model(&User{}).
		Where("username = ?", username).
		Count(&count).
		Error
	if err != nil {
		logger.Error().Err(err).Msg("gorm error")
		return false, ErrRepositoryError
	}

	return count > 0, nil
}

func (d *datastore) GetRoleID(ctx context.Context, roleName string) (uint, error) {
	logger := logging.GetFromContext(ctx)

	var role = Role{}

	result := d.db.WithContext(ctx).
		Where("role_name = ?", roleName).
		First(&role)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, ErrNotFound
		}

		logger.Error().Err(result.Error).Msg("gorm error")

		return 0, ErrRepositoryError
	}

	return role.ID, nil
}

// GetCredentials returns the password hash and role name of an account, or ErrNotFound.
func (d *datastore) GetCredentials(ctx context.Context, username string) (Credentials, error) {
	logger := logging.GetFromContext(ctx)

	var creds = Credentials{}

	result := d.db.WithContext(ctx).
		Table("users AS u").
		Select("u.password_hash, r.role_name").
		Joins("JOIN roles AS r ON r.id = u.role_id").
		Where("u.username = ?", username).
		Take(&creds)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return Credentials{}, ErrNotFound
		}

		logger.Error().Err(result.Error).Msg("gorm error")

		return Credentials{}, ErrRepositoryError
	}

	return creds, nil
}

// CreateAccount stores the profile and the account referencing it in one transaction.
// ErrAlreadyExists is returned if the username was taken before the account could be written,
// in which case no profile row is kept either.
func (d *datastore) CreateAccount(ctx context.Context, info *UserInfo, user *User) error {
	logger := logging.GetFromContext(ctx)

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(info).Error; err != nil {
			return err
		}

		user.UserInfoID = info.ID

		return tx.Omit(clause.Associations).Create(user).Error
	})

	if err == nil {
		return nil
	}

	exists, checkErr := d.UsernameExists(ctx, user.Username)
	if checkErr == nil && exists {
		return ErrAlreadyExists
	}

	logger.Error().Err(err).Msg("failed to create account")

	return ErrRepositoryError
}
