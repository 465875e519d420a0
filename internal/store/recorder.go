package store

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/MJE43/forage-arena-go/internal/model"
)

// DefaultBatchSize is the number of samples written per batch.
const DefaultBatchSize = 100

// Recorder buffers movement samples and writes them to a Sink in fixed-size
// batches. Writes are synchronous so batches reach the sink in order.
// After Stop, further samples are dropped.
type Recorder struct {
	ctx       context.Context
	sink      Sink
	logger    *log.Logger
	batchSize int

	mu       sync.Mutex
	buffer   []model.MovementSample
	stopped  bool
	written  int
	failures int
}

// NewRecorder returns a recorder writing to sink. batchSize <= 0 selects
// DefaultBatchSize; a nil logger selects the default logger.
func NewRecorder(ctx context.Context, sink Sink, batchSize int, logger *log.Logger) *Recorder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = log.Default().WithPrefix("store")
	}
	return &Recorder{
		ctx:       ctx,
		sink:      sink,
		logger:    logger,
		batchSize: batchSize,
		buffer:    make([]model.MovementSample, 0, batchSize),
	}
}

// Record buffers a sample and writes a batch once the buffer is full.
func (r *Recorder) Record(s model.MovementSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.buffer = append(r.buffer, s)
	if len(r.buffer) >= r.batchSize {
		r.flushLocked()
	}
}

// Flush writes any partial batch.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

// Stop flushes the remaining samples and rejects further ones. It is safe
// to call more than once.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.flushLocked()
	r.stopped = true
}

// Written returns the number of samples the sink accepted.
func (r *Recorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Failures returns the number of batches the sink rejected.
func (r *Recorder) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

func (r *Recorder) flushLocked() {
	if len(r.buffer) == 0 {
		return
	}
	batch := make([]model.MovementSample, len(r.buffer))
	copy(batch, r.buffer)
	r.buffer = r.buffer[:0]

	if err := r.sink.AppendMovementBatch(r.ctx, batch); err != nil {
		r.failures++
		r.logger.Error("movement_batch_failed", "samples", len(batch), "err", err)
		return
	}
	r.written += len(batch)
}
