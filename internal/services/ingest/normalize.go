package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/5ir-Lancelot/dragino-webapp/internal/model"
	"github.com/5ir-Lancelot/dragino-webapp/internal/model/messages"
)

// ErrNoDeviceID marks an uplink that cannot be attributed to a device. Such
// messages are dropped; they are a data-quality signal, not a pipeline fault.
var ErrNoDeviceID = errors.New("uplink missing device_id")

// payloadSchema maps one firmware variant's raw field names onto the
// canonical metrics. Variants are recognized by the presence of their marker
// keys, not by device identifiers, so a new sensor family only needs a new
// table entry here.
type payloadSchema struct {
	name    string
	markers []string
	mapping map[string]string // canonical metric -> raw key
}

var schemas = []payloadSchema{
	{
		// Dragino LSE01-style soil EC meters
		name:    "ec-meter",
		markers: []string{"conduct_SOIL", "water_SOIL", "BatV"},
		mapping: map[string]string{
			model.MetricSoilTemperature:  "temp_SOIL",
			model.MetricSoilConductivity: "conduct_SOIL",
			model.MetricSoilWaterContent: "water_SOIL",
			model.MetricBattery:          "BatV",
		},
	},
	{
		// Dragino LSPH01-style soil pH meters
		name:    "ph-meter",
		markers: []string{"PH1_SOIL", "TEMP_SOIL", "Bat"},
		mapping: map[string]string{
			model.MetricSoilTemperature: "TEMP_SOIL",
			model.MetricBattery:         "Bat",
			model.MetricPH:              "PH1_SOIL",
		},
	},
}

// detectSchema picks the first variant with any marker key present. An
// unrecognized payload yields nil: the record still goes through with every
// metric null, matching how unknown uplinks are stored.
func detectSchema(payload map[string]any) *payloadSchema {
	for i := range schemas {
		for _, k := range schemas[i].markers {
			if _, ok := payload[k]; ok {
				return &schemas[i]
			}
		}
	}
	return nil
}

// Normalize maps one raw uplink envelope into the canonical record shape.
// Pure function of its input: no side effects, safe under concurrent calls.
// Timestamp preference: envelope received_at, then the inner uplink
// received_at, then the receipt time supplied by the stream reader.
func Normalize(raw []byte, receivedAt time.Time) (model.TelemetryRecord, error) {
	var up messages.Uplink
	if err := json.Unmarshal(raw, &up); err != nil {
		return model.TelemetryRecord{}, fmt.Errorf("unmarshal uplink: %w", err)
	}

	deviceID := strings.TrimSpace(up.EndDeviceIDs.DeviceID)
	if deviceID == "" {
		return model.TelemetryRecord{}, ErrNoDeviceID
	}

	ts := up.ReceivedAt
	if ts.IsZero() {
		ts = up.Message.ReceivedAt
	}
	if ts.IsZero() {
		ts = receivedAt
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	rec := model.TelemetryRecord{Date: ts.UTC(), DeviceID: deviceID}
	if sc := detectSchema(up.Message.DecodedPayload); sc != nil {
		for metric, rawKey := range sc.mapping {
			if slot := rec.Metric(metric); slot != nil {
				*slot = numField(up.Message.DecodedPayload, rawKey)
			}
		}
	}
	return rec, nil
}

// numField extracts a numeric raw field, nil when absent, null or unparsable.
// Decoders occasionally emit numbers as strings, so those are parsed too.
func numField(payload map[string]any, key string) *float64 {
	v, ok := payload[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return &f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return &f
		}
	}
	return nil
}
