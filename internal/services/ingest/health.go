package ingest

import (
	"encoding/json"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type healthHandler struct {
	mqtt   mqtt.Client
	sink   *FileSink
	mirror *InfluxMirror // may be nil
}

func NewHealthHandler(m mqtt.Client, s *FileSink, mirror *InfluxMirror) http.Handler {
	return &healthHandler{mqtt: m, sink: s, mirror: mirror}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string   `json:"status"`
		MQTTConnected   bool     `json:"mqtt_connected"`
		SinkErrorAgeS   float64  `json:"sink_error_age_sec"`
		InfluxErrorAgeS *float64 `json:"influx_error_age_sec,omitempty"`
	}
	st := status{
		MQTTConnected: h.mqtt != nil && h.mqtt.IsConnectionOpen(),
		SinkErrorAgeS: h.sink.LastErrorAge().Seconds(),
	}
	if h.mirror != nil {
		age := h.mirror.LastErrorAge().Seconds()
		st.InfluxErrorAgeS = &age
	}

	// ok when upstream is connected and the durable store has been quiet
	sinkOK := h.sink.LastErrorAge() > 30*time.Second
	switch {
	case st.MQTTConnected && sinkOK:
		st.Status = "ok"
	case st.MQTTConnected || sinkOK:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

type readyHandler struct {
	mqtt     mqtt.Client
	sink     *FileSink
	minError time.Duration
}

// NewReadyHandler answers 200 only when the upstream connection is open and
// the sink has gone minOkErrorAge without a write error.
func NewReadyHandler(m mqtt.Client, s *FileSink, minOkErrorAge time.Duration) http.Handler {
	return &readyHandler{mqtt: m, sink: s, minError: minOkErrorAge}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.mqtt != nil && h.mqtt.IsConnectionOpen() && h.sink.LastErrorAge() > h.minError
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Header().Set("Content-Type", "application/json")
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}
