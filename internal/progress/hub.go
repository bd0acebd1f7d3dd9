package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wayback-downloader/internal/archive"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatchResults: flush once this many results queue (default 64).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 250ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize      int
	MaxBatchResults int
	MaxBatchWait    time.Duration
	SinkTimeout     time.Duration
	BaseContext     context.Context
	Logger          *zap.Logger
}

const (
	defaultBufferSize      = 1024
	defaultMaxBatchResults = 64
	defaultMaxBatchWait    = 250 * time.Millisecond
	defaultSinkTimeout     = 10 * time.Second
)

// Hub aggregates results and fans them out to registered sinks. Emit applies
// backpressure when the buffer is full instead of dropping results.
type Hub struct {
	cfg     Config
	sinks   []Sink
	results chan archive.Result
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger

	// emitMu keeps Close from racing in-flight sends.
	emitMu  sync.RWMutex
	closed  bool
	late    atomic.Int64
	flushed atomic.Int64

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub initializes a Hub and starts the background batching goroutine using
// the supplied sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchResults <= 0 {
		cfg.MaxBatchResults = defaultMaxBatchResults
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		results: make(chan archive.Result, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
	}
	go h.run()
	return h
}

// Emit enqueues a result for batching. It blocks while the buffer is full.
// Results emitted after Close are counted and discarded.
func (h *Hub) Emit(result archive.Result) {
	if h == nil {
		return
	}
	if err := result.Validate(); err != nil {
		h.logger.Warn("discarding invalid result", zap.String("url", result.OriginalURL), zap.Error(err))
		return
	}
	h.emitMu.RLock()
	defer h.emitMu.RUnlock()
	if h.closed {
		h.late.Add(1)
		return
	}
	h.results <- result
}

// Flushed reports how many results have been handed to sinks.
func (h *Hub) Flushed() int64 {
	if h == nil {
		return 0
	}
	return h.flushed.Load()
}

// Close drains remaining results, flushes sinks, and blocks until the
// background goroutine exits. It is safe to call multiple times.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.emitMu.Lock()
		h.closed = true
		h.closeCtx = ctx
		h.emitMu.Unlock()
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		if n := h.late.Load(); n > 0 {
			h.logger.Warn("results emitted after hub close were discarded", zap.Int64("count", n))
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]archive.Result, 0, h.cfg.MaxBatchResults)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	timerActive := false
	for {
		select {
		case result := <-h.results:
			batch = h.enqueue(batch, result, timer, &timerActive)
		case <-timer.C:
			timerActive = false
			if len(batch) > 0 {
				h.flush(batch)
				batch = batch[:0]
			}
		case <-h.stopCh:
			h.handleStop(batch, timer, &timerActive)
			return
		}
	}
}

func (h *Hub) enqueue(batch []archive.Result, result archive.Result, timer *time.Timer, timerActive *bool) []archive.Result {
	batch = append(batch, result)
	if len(batch) >= h.cfg.MaxBatchResults {
		h.flush(batch)
		batch = batch[:0]
		h.stopTimer(timer, timerActive)
	} else if !*timerActive {
		timer.Reset(h.cfg.MaxBatchWait)
		*timerActive = true
	}
	return batch
}

func (h *Hub) handleStop(batch []archive.Result, timer *time.Timer, timerActive *bool) {
	h.stopTimer(timer, timerActive)
	for {
		select {
		case result := <-h.results:
			batch = append(batch, result)
			if len(batch) >= h.cfg.MaxBatchResults {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				h.flush(batch)
			}
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) stopTimer(timer *time.Timer, timerActive *bool) {
	if !*timerActive {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	*timerActive = false
}

func (h *Hub) flush(batch []archive.Result) {
	if len(batch) == 0 {
		return
	}
	copyBatch := append([]archive.Result(nil), batch...)
	baseCtx := h.cfg.BaseContext
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(baseCtx, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, copyBatch); err != nil {
			h.logger.Warn("result sink consume failed", zap.Int("batch", len(copyBatch)), zap.Error(err))
		}
		cancel()
	}
	h.flushed.Add(int64(len(copyBatch)))
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("result sink close failed", zap.Error(err))
		}
	}
}
