package ingest

import (
	"errors"
	"testing"
	"time"
)

func fv(v float64) *float64 { return &v }

func TestNormalizeECMeter(t *testing.T) {
	raw := []byte(`{
		"end_device_ids": {"device_id": "sensor-42"},
		"received_at": "2026-03-01T08:15:00Z",
		"uplink_message": {
			"f_port": 2,
			"decoded_payload": {"BatV": 3.6, "temp_SOIL": 21.0, "conduct_SOIL": 310, "water_SOIL": 27.5}
		}
	}`)

	rec, err := Normalize(raw, time.Now())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if rec.DeviceID != "sensor-42" {
		t.Errorf("DeviceID = %q, want sensor-42", rec.DeviceID)
	}
	if want := time.Date(2026, 3, 1, 8, 15, 0, 0, time.UTC); !rec.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", rec.Date, want)
	}
	if rec.SoilTemperature == nil || *rec.SoilTemperature != 21.0 {
		t.Errorf("SoilTemperature = %v, want 21.0", rec.SoilTemperature)
	}
	if rec.SoilConductivity == nil || *rec.SoilConductivity != 310 {
		t.Errorf("SoilConductivity = %v, want 310", rec.SoilConductivity)
	}
	if rec.SoilWaterContent == nil || *rec.SoilWaterContent != 27.5 {
		t.Errorf("SoilWaterContent = %v, want 27.5", rec.SoilWaterContent)
	}
	if rec.Battery == nil || *rec.Battery != 3.6 {
		t.Errorf("Battery = %v, want 3.6", rec.Battery)
	}
	if rec.PH != nil {
		t.Errorf("PH = %v, want nil (EC meters carry no pH probe)", *rec.PH)
	}
}

func TestNormalizePHMeter(t *testing.T) {
	raw := []byte(`{
		"end_device_ids": {"device_id": "ph-7"},
		"received_at": "2026-03-01T09:00:00Z",
		"uplink_message": {
			"decoded_payload": {"Bat": 3.3, "PH1_SOIL": 6.8, "TEMP_SOIL": "19.4", "TempC_DS18B20": 0}
		}
	}`)

	rec, err := Normalize(raw, time.Now())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if rec.PH == nil || *rec.PH != 6.8 {
		t.Errorf("PH = %v, want 6.8", rec.PH)
	}
	if rec.Battery == nil || *rec.Battery != 3.3 {
		t.Errorf("Battery = %v, want 3.3", rec.Battery)
	}
	// decoders sometimes emit numeric strings
	if rec.SoilTemperature == nil || *rec.SoilTemperature != 19.4 {
		t.Errorf("SoilTemperature = %v, want 19.4", rec.SoilTemperature)
	}
	if rec.SoilConductivity != nil || rec.SoilWaterContent != nil {
		t.Error("pH meter must not report conductivity or water content")
	}
}

func TestNormalizeMissingMetricsAreExplicitNull(t *testing.T) {
	raw := []byte(`{
		"end_device_ids": {"device_id": "sensor-42"},
		"received_at": "2026-03-01T08:15:00Z",
		"uplink_message": {"decoded_payload": {"BatV": 3.6, "temp_SOIL": 21.0}}
	}`)

	rec, err := Normalize(raw, time.Now())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if rec.SoilConductivity != nil {
		t.Errorf("SoilConductivity = %v, want nil", *rec.SoilConductivity)
	}
	if rec.SoilWaterContent != nil {
		t.Errorf("SoilWaterContent = %v, want nil", *rec.SoilWaterContent)
	}
}

func TestNormalizeRejectsMissingDeviceID(t *testing.T) {
	for name, raw := range map[string]string{
		"absent": `{"uplink_message": {"decoded_payload": {"BatV": 3.6}}}`,
		"blank":  `{"end_device_ids": {"device_id": "  "}, "uplink_message": {}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize([]byte(raw), time.Now())
			if !errors.Is(err, ErrNoDeviceID) {
				t.Fatalf("err = %v, want ErrNoDeviceID", err)
			}
		})
	}
}

func TestNormalizeRejectsBadJSON(t *testing.T) {
	if _, err := Normalize([]byte("not json"), time.Now()); err == nil {
		t.Fatal("want decode error")
	}
}

func TestNormalizeTimestampFallbacks(t *testing.T) {
	inner := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	receipt := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)

	t.Run("inner received_at wins over receipt time", func(t *testing.T) {
		raw := []byte(`{
			"end_device_ids": {"device_id": "d1"},
			"uplink_message": {"received_at": "2026-03-01T10:00:00Z", "decoded_payload": {}}
		}`)
		rec, err := Normalize(raw, receipt)
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if !rec.Date.Equal(inner) {
			t.Errorf("Date = %v, want %v", rec.Date, inner)
		}
	})

	t.Run("receipt time when envelope has none", func(t *testing.T) {
		raw := []byte(`{"end_device_ids": {"device_id": "d1"}, "uplink_message": {"decoded_payload": {}}}`)
		rec, err := Normalize(raw, receipt)
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if !rec.Date.Equal(receipt) {
			t.Errorf("Date = %v, want %v", rec.Date, receipt)
		}
	})

	t.Run("processing time as last resort", func(t *testing.T) {
		raw := []byte(`{"end_device_ids": {"device_id": "d1"}, "uplink_message": {"decoded_payload": {}}}`)
		before := time.Now()
		rec, err := Normalize(raw, time.Time{})
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if rec.Date.Before(before.Add(-time.Second)) || rec.Date.After(time.Now().Add(time.Second)) {
			t.Errorf("Date = %v, want roughly now", rec.Date)
		}
	})
}

func TestNormalizeUnknownSchemaKeepsRecord(t *testing.T) {
	raw := []byte(`{
		"end_device_ids": {"device_id": "mystery-1"},
		"received_at": "2026-03-01T08:15:00Z",
		"uplink_message": {"decoded_payload": {"lux": 1200}}
	}`)
	rec, err := Normalize(raw, time.Now())
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	for _, m := range []*float64{rec.SoilTemperature, rec.SoilConductivity, rec.SoilWaterContent, rec.Battery, rec.PH} {
		if m != nil {
			t.Fatalf("unknown schema should normalize to all-null metrics, got %v", *m)
		}
	}
}

func TestDetectSchemaByMarkerNotDeviceID(t *testing.T) {
	// a pH payload with extra unknown keys still lands on the pH table
	sc := detectSchema(map[string]any{"weird": 1, "PH1_SOIL": 7.0, "Bat": 3.2})
	if sc == nil || sc.name != "ph-meter" {
		t.Fatalf("detectSchema = %+v, want ph-meter", sc)
	}
	sc = detectSchema(map[string]any{"water_SOIL": 12.0})
	if sc == nil || sc.name != "ec-meter" {
		t.Fatalf("detectSchema = %+v, want ec-meter", sc)
	}
	if sc := detectSchema(map[string]any{"lux": 5}); sc != nil {
		t.Fatalf("detectSchema = %+v, want nil", sc)
	}
}
