package api

import (
	"encoding/json"
	"net/http"

	"github.com/diwise/iot-telemetry-mgmt/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/iot-telemetry-mgmt/pkg/types"
	"github.com/samber/lo"
)

func toTelemetryRecords(views []database.TelemetryView) []types.TelemetryRecord {
	return lo.Map(views, func(v database.TelemetryView, _ int) types.TelemetryRecord {
		return types.TelemetryRecord{
			DeviceName:        v.DeviceName,
			IPAddress:         v.IPAddress,
			Location:          v.Location,
			MetricTypeID:      v.MetricTypeID,
			MetricValue:       v.MetricValue,
			IsAnomaly:         v.IsAnomaly,
			ActionDescription: v.ActionDescription,
			RecordedAt:        v.RecordedAt.UTC(),
		}
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

func writeMessage(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, types.ErrorResponse{Message: message})
}
