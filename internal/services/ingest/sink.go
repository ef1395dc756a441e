package ingest

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/5ir-Lancelot/dragino-webapp/internal/model"
)

const (
	csvFileName    = "telemetry-data.csv"
	ndjsonFileName = "telemetry-data.json"
)

// csvHeader is the fixed column layout of the tabular store. Written once,
// when the file is first created.
var csvHeader = []string{
	"date", "deviceId",
	model.MetricSoilTemperature, model.MetricSoilConductivity,
	model.MetricSoilWaterContent, model.MetricBattery, model.MetricPH,
}

// ErrSinkBusy is returned by Append when the write queue is full. The record
// is lost for the durable path only; callers keep the live path going.
var ErrSinkBusy = errors.New("sink queue full")

// FileSink appends every accepted record to an append-only CSV plus an NDJSON
// mirror of the same rows, for re-ingestion or backfill. A single writer
// goroutine consumes a bounded queue, so appends keep arrival order and the
// pipeline never waits on the disk. Repeated write failures trip a circuit
// breaker that turns further appends into fast drops until the store recovers.
type FileSink struct {
	// qmu serializes Append against Close: handler invocations can still be
	// in flight when shutdown starts, and a late append must degrade to
	// ErrSinkBusy, not hit a closed queue.
	qmu    sync.Mutex
	closed bool
	queue  chan model.TelemetryRecord

	csvFile    *os.File
	csvWriter  *csv.Writer
	ndjsonFile *os.File
	ndjsonEnc  *json.Encoder

	breaker *gobreaker.CircuitBreaker

	mu      sync.RWMutex
	lastErr time.Time

	onError func() // metrics callback, may be nil
	wg      sync.WaitGroup
	started bool
}

// NewFileSink creates the data directory and both store files on first use.
// An existing CSV keeps its contents; a new one gets the fixed header.
func NewFileSink(dir string, queueSize int) (*FileSink, error) {
	if queueSize < 1 {
		queueSize = 1024
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	csvPath := filepath.Join(dir, csvFileName)
	_, statErr := os.Stat(csvPath)
	fresh := os.IsNotExist(statErr)

	csvFile, err := os.OpenFile(csvPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open csv store: %w", err)
	}
	w := csv.NewWriter(csvFile)
	if fresh {
		if err := w.Write(csvHeader); err != nil {
			_ = csvFile.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			_ = csvFile.Close()
			return nil, fmt.Errorf("write csv header: %w", err)
		}
	}

	ndjsonFile, err := os.OpenFile(filepath.Join(dir, ndjsonFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = csvFile.Close()
		return nil, fmt.Errorf("open ndjson store: %w", err)
	}

	s := &FileSink{
		queue:      make(chan model.TelemetryRecord, queueSize),
		csvFile:    csvFile,
		csvWriter:  w,
		ndjsonFile: ndjsonFile,
		ndjsonEnc:  json.NewEncoder(ndjsonFile),
		lastErr:    time.Now().Add(-24 * time.Hour),
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "file-sink",
		Timeout: 5 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("ingest: sink breaker %s -> %s", from, to)
		},
	})
	return s, nil
}

// SetErrorCallback registers a hook invoked once per failed asynchronous
// write. Queue-full drops are not routed here; the caller of Append already
// sees those as an error return.
func (s *FileSink) SetErrorCallback(fn func()) { s.onError = fn }

// Start launches the writer goroutine. Call once.
func (s *FileSink) Start() {
	s.started = true
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for rec := range s.queue {
			s.write(rec)
		}
	}()
}

// Append enqueues rec for durable storage without blocking. A full queue or
// a sink already shut down returns ErrSinkBusy and the record is skipped on
// the durable path.
func (s *FileSink) Append(rec model.TelemetryRecord) error {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if s.closed {
		s.markError()
		return ErrSinkBusy
	}
	select {
	case s.queue <- rec:
		return nil
	default:
		s.markError()
		return ErrSinkBusy
	}
}

func (s *FileSink) write(rec model.TelemetryRecord) {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.writeRecord(rec)
	})
	if err != nil {
		s.markError()
		if s.onError != nil {
			s.onError()
		}
		log.Printf("ingest: persist error for %s: %v", rec.DeviceID, err)
	}
}

func (s *FileSink) writeRecord(rec model.TelemetryRecord) error {
	row := []string{
		rec.Date.UTC().Format(time.RFC3339),
		rec.DeviceID,
		csvCell(rec.SoilTemperature),
		csvCell(rec.SoilConductivity),
		csvCell(rec.SoilWaterContent),
		csvCell(rec.Battery),
		csvCell(rec.PH),
	}
	if err := s.csvWriter.Write(row); err != nil {
		return fmt.Errorf("csv append: %w", err)
	}
	s.csvWriter.Flush()
	if err := s.csvWriter.Error(); err != nil {
		return fmt.Errorf("csv append: %w", err)
	}
	if err := s.ndjsonEnc.Encode(rec); err != nil {
		return fmt.Errorf("ndjson append: %w", err)
	}
	return nil
}

// csvCell renders a nullable metric; null becomes an empty cell.
func csvCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func (s *FileSink) markError() {
	s.mu.Lock()
	s.lastErr = time.Now()
	s.mu.Unlock()
}

// LastErrorAge reports how long the sink has gone without a write error.
func (s *FileSink) LastErrorAge() time.Duration {
	s.mu.RLock()
	t := s.lastErr
	s.mu.RUnlock()
	return time.Since(t)
}

// Close drains queued records and closes both store files. Appends arriving
// after Close starts are rejected with ErrSinkBusy. Idempotent.
func (s *FileSink) Close() error {
	s.qmu.Lock()
	if s.closed {
		s.qmu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.qmu.Unlock()
	if s.started {
		s.wg.Wait()
	}
	err1 := s.csvFile.Close()
	err2 := s.ndjsonFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
