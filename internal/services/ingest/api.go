package ingest

import (
	"encoding/json"
	"net/http"
	"strings"
)

// NewDevicesMux serves the registry over HTTP so a dashboard that just
// selected a device can seed its view before live records arrive.
//
// GET /devices                               -> {"count":n,"devices":[...]}
// GET /devices/latest?device_id=<id>         -> rolling window, oldest first
func NewDevicesMux(registry *Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/devices", func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Count   int      `json:"count"`
			Devices []string `json:"devices"`
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp{
			Count:   registry.DeviceCount(),
			Devices: registry.DeviceIDs(),
		})
	})

	mux.HandleFunc("/devices/latest", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.URL.Query().Get("device_id"))
		if id == "" {
			http.Error(w, "device_id required", http.StatusBadRequest)
			return
		}
		recs := registry.Snapshot(id)
		if recs == nil {
			http.Error(w, "unknown device", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(recs)
	})

	return mux
}
