package model

import "time"

// TelemetryRecord is the canonical reading shape shared by the durable sinks,
// the live dashboard stream and the per-device rolling history. Metric fields
// are pointers so that a metric the device did not report serializes as an
// explicit JSON null instead of disappearing or becoming a zero.
type TelemetryRecord struct {
	Date             time.Time `json:"date"`
	DeviceID         string    `json:"deviceId"`
	SoilTemperature  *float64  `json:"soilTemperature"`
	SoilConductivity *float64  `json:"soilConductivity"`
	SoilWaterContent *float64  `json:"soilWaterContent"`
	Battery          *float64  `json:"battery"`
	PH               *float64  `json:"pH"`
}

// Canonical metric names, also the CSV column names after date and deviceId.
const (
	MetricSoilTemperature  = "soilTemperature"
	MetricSoilConductivity = "soilConductivity"
	MetricSoilWaterContent = "soilWaterContent"
	MetricBattery          = "battery"
	MetricPH               = "pH"
)

// Metric returns a pointer to the named metric slot, or nil for an unknown name.
func (r *TelemetryRecord) Metric(name string) **float64 {
	switch name {
	case MetricSoilTemperature:
		return &r.SoilTemperature
	case MetricSoilConductivity:
		return &r.SoilConductivity
	case MetricSoilWaterContent:
		return &r.SoilWaterContent
	case MetricBattery:
		return &r.Battery
	case MetricPH:
		return &r.PH
	}
	return nil
}
