package ingest

import (
	"log"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/5ir-Lancelot/dragino-webapp/internal/model"
)

// InfluxMirror copies every accepted record into a time-series bucket next to
// the file store, for ad-hoc queries and backfill. Writes go through the
// non-blocking WriteAPI; its async error channel is watched so /readyz can
// report a struggling mirror without the pipeline ever waiting on it.
type InfluxMirror struct {
	client influxdb2.Client
	api    api.WriteAPI

	mu      sync.RWMutex
	lastErr time.Time
}

func NewInfluxMirror(url, token, org, bucket string) *InfluxMirror {
	client := influxdb2.NewClient(url, token)
	w := client.WriteAPI(org, bucket)
	m := &InfluxMirror{
		client:  client,
		api:     w,
		lastErr: time.Now().Add(-24 * time.Hour),
	}
	go func() {
		for err := range w.Errors() {
			if err != nil {
				m.mu.Lock()
				m.lastErr = time.Now()
				m.mu.Unlock()
				log.Printf("ingest: influx write error: %v", err)
			}
		}
	}()
	return m
}

// Write queues one record. Null metrics are skipped (the series has no
// representation for "not reported"); a counter field keeps the point
// non-empty even for all-null records so the uplink itself is still counted.
func (m *InfluxMirror) Write(rec model.TelemetryRecord) {
	tags := map[string]string{"device_id": rec.DeviceID}
	fields := map[string]interface{}{"uplinks": int64(1)}
	for _, name := range []string{
		model.MetricSoilTemperature, model.MetricSoilConductivity,
		model.MetricSoilWaterContent, model.MetricBattery, model.MetricPH,
	} {
		if v := *rec.Metric(name); v != nil {
			fields[name] = *v
		}
	}
	m.api.WritePoint(influxdb2.NewPoint("soil_telemetry", tags, fields, rec.Date))
}

// LastErrorAge reports how long the mirror has gone without a write error.
func (m *InfluxMirror) LastErrorAge() time.Duration {
	m.mu.RLock()
	t := m.lastErr
	m.mu.RUnlock()
	return time.Since(t)
}

// Close flushes buffered points and shuts the client down.
func (m *InfluxMirror) Close() {
	m.api.Flush()
	m.client.Close()
}
