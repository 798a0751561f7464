package types

import "time"

type AnomalyDetected struct {
	DeviceName   string    `json:"device_name"`
	IPAddress    string    `json:"ip_address"`
	Location     *string   `json:"location,omitempty"`
	MetricTypeID int       `json:"metric_type_id"`
	MetricValue  float64   `json:"metric_value"`
	RecordedAt   time.Time `json:"recorded_at"`
}

func (a *AnomalyDetected) ContentType() string {
	return "application/json"
}

func (a *AnomalyDetected) TopicName() string {
	return "telemetry.anomaly"
}

func (a *AnomalyDetected) EventTime() time.Time {
	return a.RecordedAt
}
