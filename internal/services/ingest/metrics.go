package ingest

import "github.com/prometheus/client_golang/prometheus"

// Drop reasons used as the label on the dropped counter.
const (
	DropReasonDecode    = "decode"
	DropReasonNoDevice  = "no_device_id"
	DropReasonDuplicate = "duplicate"
)

// Metrics holds the pipeline's instrumentation. Constructed against an
// explicit registerer so tests can use a private registry.
type Metrics struct {
	Received      prometheus.Counter
	Accepted      prometheus.Counter
	Dropped       *prometheus.CounterVec
	PersistErrors prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_uplinks_received_total", Help: "Uplink messages delivered by the stream reader"}),
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_records_accepted_total", Help: "Uplinks normalized into telemetry records"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_uplinks_dropped_total", Help: "Uplinks dropped before normalization completed"},
			[]string{"reason"}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_persist_errors_total", Help: "Failed or skipped durable store appends"}),
	}
	reg.MustRegister(m.Received, m.Accepted, m.Dropped, m.PersistErrors)
	return m
}

// RegisterGauges exposes tracked-device and live-subscriber counts. Separate
// from NewMetrics because the registry and hub exist only after wiring.
func RegisterGauges(reg prometheus.Registerer, registry *Registry, hub *Hub) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ingest_devices_tracked", Help: "Distinct devices seen on the stream"},
			func() float64 { return float64(registry.DeviceCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "ingest_subscribers_connected", Help: "Live dashboard subscriber connections"},
			func() float64 { return float64(hub.ClientCount()) }),
	)
}
