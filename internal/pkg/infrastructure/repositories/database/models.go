package database

import (
	"time"

	"github.com/shopspring/decimal"
)

type Device struct {
	ID        uint    `gorm:"primaryKey"`
	Name      string  `gorm:"column:device_name;uniqueIndex;not null"`
	IPAddress string  `gorm:"column:ip_address;not null"`
	Location  *string `gorm:"column:location"`
	Status    string  `gorm:"column:status;not null;default:active"`
	CreatedAt time.Time
}

type MetricType struct {
	ID          int     `gorm:"primaryKey;autoIncrement:false"`
	Name        string  `gorm:"uniqueIndex;not null"`
	Description *string `gorm:"column:description"`
}

type Threshold struct {
	ID            uint                `gorm:"primaryKey"`
	MetricTypeID  int                 `gorm:"uniqueIndex;not null"`
	MetricType    MetricType          `gorm:"constraint:OnDelete:CASCADE"`
	WarningLevel  decimal.NullDecimal `gorm:"type:numeric(12,2)"`
	CriticalLevel decimal.NullDecimal `gorm:"type:numeric(12,2)"`
}

type TelemetryRecord struct {
	ID                uint       `gorm:"primaryKey"`
	DeviceID          uint       `gorm:"not null;index"`
	Device            Device     `gorm:"constraint:OnDelete:CASCADE"`
	MetricTypeID      int        `gorm:"not null"`
	MetricType        MetricType `gorm:"constraint:OnDelete:RESTRICT"`
	MetricValue       float64    `gorm:"not null"`
	IsAnomaly         bool       `gorm:"not null;default:false"`
	ActionDescription *string
	RecordedAt        time.Time `gorm:"not null;index"`
}

func (TelemetryRecord) TableName() string {
	return "telemetry_data"
}

// TelemetryView is a telemetry record joined with the device that reported it.
type TelemetryView struct {
	ID                uint
	DeviceName        string
	IPAddress         string
	Location          *string
	MetricTypeID      int
	MetricValue       float64
	IsAnomaly         bool
	ActionDescription *string
	RecordedAt        time.Time
}

type Role struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"column:role_name;uniqueIndex;not null"`
}

type UserInfo struct {
	ID           uint   `gorm:"primaryKey"`
	FullName     string `gorm:"not null"`
	Email        string `gorm:"not null"`
	PhoneNumber  *string
	Organization *string
}

func (UserInfo) TableName() string {
	return "user_info"
}

type User struct {
	ID           uint     `gorm:"primaryKey"`
	Username     string   `gorm:"uniqueIndex;not null"`
	PasswordHash string   `gorm:"not null"`
	RoleID       uint     `gorm:"not null"`
	Role         Role     `gorm:"constraint:OnDelete:RESTRICT"`
	UserInfoID   uint     `gorm:"uniqueIndex;not null"`
	UserInfo     UserInfo `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time
}

// Credentials is the part of an account needed to authenticate it.
type Credentials struct {
	PasswordHash string
	RoleName     string
}
