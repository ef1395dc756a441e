// Package dedup suppresses broker redeliveries. QoS1 subscriptions can hand
// the same uplink to the handler more than once; a redelivered message carries
// an identical payload, so hashing the payload is enough to spot it.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type Deduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Deduper{ttl: ttl, max: max, seen: make(map[string]time.Time, max)}
}

// SeenPayload reports whether an identical payload was already processed
// within the TTL, recording it as seen otherwise.
func (d *Deduper) SeenPayload(payload []byte) bool {
	h := sha256.Sum256(payload)
	return !d.shouldProcess(hex.EncodeToString(h[:]))
}

func (d *Deduper) shouldProcess(id string) bool {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false
	}
	d.seen[id] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		// best-effort expiry sweep to keep the map bounded
		for k, v := range d.seen {
			if now.After(v) {
				delete(d.seen, k)
			}
			if len(d.seen) <= d.max {
				break
			}
		}
	}
	return true
}
