package ingest

import (
	"sort"
	"sync"

	"github.com/5ir-Lancelot/dragino-webapp/internal/model"
	"github.com/5ir-Lancelot/dragino-webapp/pkg/rolling"
)

// Device owns the rolling window of the most recent records for one device
// id. Created lazily on first record, lives for the process lifetime.
type Device struct {
	ID string

	mu      sync.Mutex
	history *rolling.Ring[model.TelemetryRecord]
}

func (d *Device) record(rec model.TelemetryRecord) {
	d.mu.Lock()
	d.history.Push(rec)
	d.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the device history, oldest first.
func (d *Device) Snapshot() []model.TelemetryRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.history.Snapshot()
}

// Registry tracks every device seen on the stream. Per-device locking keeps
// concurrent appends for different devices from contending; the registry
// lock only guards the map itself.
type Registry struct {
	mu       sync.RWMutex
	devices  map[string]*Device
	capacity int
}

func NewRegistry(capacity int) *Registry {
	if capacity < 1 {
		capacity = 50
	}
	return &Registry{devices: make(map[string]*Device), capacity: capacity}
}

// GetOrCreate returns the device for id, creating it on first sight.
// Idempotent: a second call returns the same instance with its history intact.
func (g *Registry) GetOrCreate(id string) *Device {
	g.mu.RLock()
	d, ok := g.devices[id]
	g.mu.RUnlock()
	if ok {
		return d
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if d, ok := g.devices[id]; ok {
		return d
	}
	d = &Device{ID: id, history: rolling.New[model.TelemetryRecord](g.capacity)}
	g.devices[id] = d
	return d
}

// Record appends rec to its device's rolling window, evicting the oldest
// entry once the window is full.
func (g *Registry) Record(rec model.TelemetryRecord) {
	g.GetOrCreate(rec.DeviceID).record(rec)
}

// Snapshot returns the rolling window for id, oldest first, or nil for a
// device never seen. The returned slice is a detached copy.
func (g *Registry) Snapshot(id string) []model.TelemetryRecord {
	g.mu.RLock()
	d, ok := g.devices[id]
	g.mu.RUnlock()
	if !ok {
		return nil
	}
	return d.Snapshot()
}

// DeviceCount reports how many distinct devices the stream has produced.
// Monotonically non-decreasing: devices are never deleted.
func (g *Registry) DeviceCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.devices)
}

// DeviceIDs returns the known device ids, sorted.
func (g *Registry) DeviceIDs() []string {
	g.mu.RLock()
	ids := make([]string, 0, len(g.devices))
	for id := range g.devices {
		ids = append(ids, id)
	}
	g.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
