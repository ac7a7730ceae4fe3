package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"crestline-hq/gatehouse/pkg/clock"
)

// RecorderConfig configures the async recorder.
type RecorderConfig struct {
	// BufferSize is the channel capacity between the admission path and the
	// storage writer. Records are dropped, never blocked on, when full.
	// Default: 1024
	BufferSize int
}

// Recorder appends admission decisions to storage asynchronously. Record
// never blocks the caller: the admission path must not wait on audit I/O,
// so a full buffer drops the record and counts the drop.
type Recorder struct {
	storage Storage
	clk     clock.Clock
	logger  *slog.Logger

	ch      chan *Record
	dropped atomic.Int64

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRecorder creates a recorder and starts its writer goroutine.
func NewRecorder(storage Storage, clk clock.Clock, cfg RecorderConfig) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}

	r := &Recorder{
		storage: storage,
		clk:     clk,
		logger:  slog.Default().With("component", "audit-recorder"),
		ch:      make(chan *Record, cfg.BufferSize),
	}
	r.wg.Add(1)
	go r.writer()
	return r
}

// Record enqueues one decision for persistence. Assigns the record id and
// timestamp if unset. Never blocks.
func (r *Recorder) Record(record *Record) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Time.IsZero() {
		record.Time = r.clk.Now()
	}

	select {
	case r.ch <- record:
	default:
		if r.dropped.Add(1)%1000 == 1 {
			r.logger.Warn("audit buffer full, dropping records", "dropped_total", r.dropped.Load())
		}
	}
}

// Dropped returns the number of records lost to a full buffer.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Close drains the buffer and stops the writer.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() { close(r.ch) })
	r.wg.Wait()
	return nil
}

func (r *Recorder) writer() {
	defer r.wg.Done()
	for record := range r.ch {
		if err := r.storage.Append(context.Background(), record); err != nil {
			r.logger.Error("failed to append audit record", "record_id", record.ID, "error", err)
		}
	}
}
