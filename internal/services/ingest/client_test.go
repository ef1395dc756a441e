package ingest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func wsDial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServeWSDeliversRecordsAsJSON(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))
	defer srv.Close()
	defer hub.Close()

	conn := wsDial(t, srv)
	defer conn.Close()
	waitForClients(t, hub, 1)

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	r := rec("sensor-42", 21.0, base)
	hub.Broadcast(r)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	type wire struct {
		Date            time.Time `json:"date"`
		DeviceID        string    `json:"deviceId"`
		SoilTemperature *float64  `json:"soilTemperature"`
		PH              *float64  `json:"pH"`
	}
	var got wire
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.DeviceID != "sensor-42" || !got.Date.Equal(base) {
		t.Fatalf("record = %+v", got)
	}
	if got.SoilTemperature == nil || *got.SoilTemperature != 21.0 {
		t.Fatalf("SoilTemperature = %v, want 21.0", got.SoilTemperature)
	}
	if got.PH != nil {
		t.Fatalf("PH = %v, want null on the wire", *got.PH)
	}
}

func TestServeWSClientDisconnectCleansUp(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))
	defer srv.Close()
	defer hub.Close()

	conn := wsDial(t, srv)
	waitForClients(t, hub, 1)
	_ = conn.Close()
	waitForClients(t, hub, 0)

	// ingestion keeps going with nobody listening
	hub.Broadcast(rec("sensor-42", 1, time.Now()))
}

func TestServeWSMultipleSubscribersSameContent(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(hub, w, r)
	}))
	defer srv.Close()
	defer hub.Close()

	c1 := wsDial(t, srv)
	defer c1.Close()
	c2 := wsDial(t, srv)
	defer c2.Close()
	waitForClients(t, hub, 2)

	for i := 0; i < 3; i++ {
		hub.Broadcast(rec("d1", float64(i), time.Now()))
	}

	for ci, conn := range []*websocket.Conn{c1, c2} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		for i := 0; i < 3; i++ {
			var got struct {
				SoilTemperature *float64 `json:"soilTemperature"`
			}
			if err := conn.ReadJSON(&got); err != nil {
				t.Fatalf("subscriber %d record %d: %v", ci, i, err)
			}
			if got.SoilTemperature == nil || *got.SoilTemperature != float64(i) {
				t.Fatalf("subscriber %d record %d = %v, want %d", ci, i, got.SoilTemperature, i)
			}
		}
	}
}
