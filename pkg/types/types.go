package types

import (
	"time"
)

// TelemetryEvent is a single reading as it is pushed to the service or
// returned by the telemetry source.
type TelemetryEvent struct {
	DeviceName        string  `json:"device_name"`
	IPAddress         string  `json:"ip_address"`
	Location          *string `json:"location,omitempty"`
	MetricTypeID      int     `json:"metric_type_id"`
	MetricValue       float64 `json:"metric_value"`
	ActionDescription *string `json:"action_description,omitempty"`
}

type TelemetryRecord struct {
	DeviceName        string    `json:"device_name"`
	IPAddress         string    `json:"ip_address"`
	Location          *string   `json:"location"`
	MetricTypeID      int       `json:"metric_type_id"`
	MetricValue       float64   `json:"metric_value"`
	IsAnomaly         bool      `json:"is_anomaly"`
	ActionDescription *string   `json:"action_description"`
	RecordedAt        time.Time `json:"recorded_at"`
}

type IngestResult struct {
	Received  int `json:"received"`
	Processed int `json:"processed"`
}

type RegisterRequest struct {
	Username     string  `json:"username"`
	Password     string  `json:"password"`
	FullName     *string `json:"full_name,omitempty"`
	Email        *string `json:"email,omitempty"`
	PhoneNumber  *string `json:"phone_number,omitempty"`
	Organization *string `json:"organization,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}

const (
	DeviceStatusActive   = "active"
	DeviceStatusWarning  = "warning"
	DeviceStatusInactive = "inactive"
)
