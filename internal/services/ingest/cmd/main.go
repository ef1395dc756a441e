package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/5ir-Lancelot/dragino-webapp/internal/services/ingest"
	"github.com/5ir-Lancelot/dragino-webapp/pkg/dedup"
	"github.com/5ir-Lancelot/dragino-webapp/pkg/mqttstream"
)

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	// === Config ===
	cfg := struct {
		ConnectionString string
		ConsumerGroup    string
		Topic            string
		ClientID         string

		DataDir    string
		BufferSize int
		SinkQueue  int

		InfluxURL    string
		InfluxToken  string
		InfluxOrg    string
		InfluxBucket string

		DedupTTL time.Duration

		HTTPPort      int
		ShutdownGrace time.Duration
	}{
		ConnectionString: os.Getenv("MQTT_CONNECTION_STRING"),
		ConsumerGroup:    os.Getenv("MQTT_CONSUMER_GROUP"),
		Topic:            envStr("MQTT_TOPIC", "v3/+/devices/+/up"),
		ClientID:         envStr("MQTT_CLIENT_ID", envStr("HOSTNAME", "ingest-service")),

		DataDir:    envStr("DATA_DIR", "data"),
		BufferSize: envInt("BUFFER_SIZE", 50),
		SinkQueue:  envInt("SINK_QUEUE", 1024),

		InfluxURL:    os.Getenv("INFLUX_URL"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    envStr("INFLUX_ORG", "soil"),
		InfluxBucket: envStr("INFLUX_BUCKET", "telemetry"),

		DedupTTL: time.Duration(envInt("DEDUP_TTL_MIN", 10)) * time.Minute,

		HTTPPort:      envInt("HTTP_PORT", 8080),
		ShutdownGrace: time.Duration(envInt("SHUTDOWN_GRACE_MS", 5000)) * time.Millisecond,
	}

	// Both upstream settings are mandatory; refuse to start without them,
	// before any store is created or listener bound.
	if strings.TrimSpace(cfg.ConnectionString) == "" || strings.TrimSpace(cfg.ConsumerGroup) == "" {
		log.Fatalf("ingest: MQTT_CONNECTION_STRING and MQTT_CONSUMER_GROUP must be set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === Metrics ===
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := ingest.NewMetrics(reg)

	// === Stores ===
	sink, err := ingest.NewFileSink(cfg.DataDir, cfg.SinkQueue)
	if err != nil {
		log.Fatalf("ingest: open file sink: %v", err)
	}
	sink.SetErrorCallback(metrics.PersistErrors.Inc)
	sink.Start()

	var mirror *ingest.InfluxMirror
	if cfg.InfluxURL != "" {
		mirror = ingest.NewInfluxMirror(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
		log.Printf("ingest: mirroring records to influx bucket %s", cfg.InfluxBucket)
	}

	// === Registry & Hub ===
	registry := ingest.NewRegistry(cfg.BufferSize)
	hub := ingest.NewHub()
	ingest.RegisterGauges(reg, registry, hub)

	pipeline := ingest.NewPipeline(registry, hub, sink).
		WithDeduper(dedup.New(cfg.DedupTTL, 20000)).
		WithMetrics(metrics)
	if mirror != nil {
		pipeline.WithMirror(mirror)
	}

	// === MQTT ===
	mqttClient, err := mqttstream.NewConn(ctx, &mqttstream.Config{
		ConnectionString: cfg.ConnectionString,
		ClientID:         cfg.ClientID,
		Group:            cfg.ConsumerGroup,
	})
	if err != nil {
		log.Fatalf("ingest: mqtt connection error: %v", err)
	}
	defer mqttstream.CloseConn(mqttClient)

	consumer := mqttstream.NewConsumer(mqttClient, cfg.Topic, cfg.ConsumerGroup, pipeline.Handle)
	consumerDone := make(chan struct{})
	go func() {
		consumer.Consume(ctx)
		close(consumerDone)
	}()

	// === HTTP ===
	mux := http.NewServeMux()
	mux.Handle("/healthz", ingest.NewHealthHandler(mqttClient, sink, mirror))
	mux.Handle("/readyz", ingest.NewReadyHandler(mqttClient, sink, 2*time.Second))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", ingest.NewDevicesMux(registry))
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ingest.ServeWS(hub, w, r)
	})

	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("ingest: HTTP listening on :%d", cfg.HTTPPort)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("ingest: http server error: %v", err)
		}
	}()

	// === Wait for signal ===
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Printf("ingest: shutting down...")

	// Stop the upstream consumer first so nothing new enters the pipeline,
	// then stop accepting subscribers and let in-flight writes drain. The
	// sink rejects any straggler appends once Close has started.
	cancel()
	select {
	case <-consumerDone:
	case <-time.After(cfg.ShutdownGrace):
		log.Printf("ingest: consumer did not stop within grace period")
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shCancel()
	_ = hs.Shutdown(shCtx)

	hub.Close()
	if err := sink.Close(); err != nil {
		log.Printf("ingest: sink close: %v", err)
	}
	if mirror != nil {
		mirror.Close()
	}
}
