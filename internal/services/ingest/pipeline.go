package ingest

import (
	"errors"
	"log"
	"time"

	"github.com/5ir-Lancelot/dragino-webapp/internal/model"
	"github.com/5ir-Lancelot/dragino-webapp/pkg/dedup"
)

// Sink is the durable-storage side of the pipeline. Append must not block
// and must preserve call order within one sink instance.
type Sink interface {
	Append(model.TelemetryRecord) error
}

// Mirror is an optional secondary store fed fire-and-forget.
type Mirror interface {
	Write(model.TelemetryRecord)
}

// Pipeline ties the stages together: normalize once per uplink, then fan the
// record out to durable storage, the device registry and the live hub. The
// three downstream effects are independent: a failing one is logged and the
// others still run. Handle is safe under concurrent invocation; per-device
// ordering is preserved because the stream reader delivers each device's
// uplinks on a single partition.
type Pipeline struct {
	registry *Registry
	hub      *Hub
	sink     Sink
	mirror   Mirror         // may be nil
	deduper  *dedup.Deduper // may be nil
	metrics  *Metrics       // may be nil
}

func NewPipeline(registry *Registry, hub *Hub, sink Sink) *Pipeline {
	return &Pipeline{registry: registry, hub: hub, sink: sink}
}

// WithMirror adds a secondary store. Nil disables it.
func (p *Pipeline) WithMirror(m Mirror) *Pipeline { p.mirror = m; return p }

// WithDeduper suppresses QoS1 redeliveries by payload hash.
func (p *Pipeline) WithDeduper(d *dedup.Deduper) *Pipeline { p.deduper = d; return p }

// WithMetrics attaches instrumentation.
func (p *Pipeline) WithMetrics(m *Metrics) *Pipeline { p.metrics = m; return p }

// Handle processes one raw uplink. It always returns nil: every failure mode
// past the stream reader is either a counted drop or a degraded store, never
// a reason to stall the stream.
func (p *Pipeline) Handle(topic string, payload []byte, receivedAt time.Time) error {
	if p.metrics != nil {
		p.metrics.Received.Inc()
	}
	if p.deduper != nil && p.deduper.SeenPayload(payload) {
		p.drop(DropReasonDuplicate)
		return nil
	}

	rec, err := Normalize(payload, receivedAt)
	if err != nil {
		if errors.Is(err, ErrNoDeviceID) {
			p.drop(DropReasonNoDevice)
		} else {
			p.drop(DropReasonDecode)
			log.Printf("ingest: bad uplink on %s: %v", topic, err)
		}
		return nil
	}
	if p.metrics != nil {
		p.metrics.Accepted.Inc()
	}

	// Durable path first, but its failure never touches the live path.
	if err := p.sink.Append(rec); err != nil {
		log.Printf("ingest: sink append failed for %s: %v", rec.DeviceID, err)
		if p.metrics != nil {
			p.metrics.PersistErrors.Inc()
		}
	}
	p.registry.Record(rec)
	p.hub.Broadcast(rec)
	if p.mirror != nil {
		p.mirror.Write(rec)
	}
	return nil
}

func (p *Pipeline) drop(reason string) {
	if p.metrics != nil {
		p.metrics.Dropped.WithLabelValues(reason).Inc()
	}
}
