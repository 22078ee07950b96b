package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"mercator-hq/turnstile/pkg/usage"
)

// OverflowPolicy decides what Record does when the queue is full.
type OverflowPolicy string

const (
	// OverflowDropOldest evicts the oldest queued event. Record never blocks.
	OverflowDropOldest OverflowPolicy = "drop_oldest"

	// OverflowBlock waits up to WriteTimeout for queue space, then drops
	// the new event.
	OverflowBlock OverflowPolicy = "block"
)

// ParseOverflowPolicy parses an overflow policy name. Empty means drop_oldest.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case "", OverflowDropOldest:
		return OverflowDropOldest, nil
	case OverflowBlock:
		return OverflowBlock, nil
	}
	return "", fmt.Errorf("unknown overflow policy %q (must be drop_oldest or block)", s)
}

// Config contains configuration for the usage recorder.
type Config struct {
	// QueueSize is the capacity of the in-memory event queue.
	// Default: 1000
	QueueSize int

	// Overflow is the policy applied when the queue is full.
	// Default: drop_oldest
	Overflow OverflowPolicy

	// WriteTimeout bounds a single storage write, and the wait for queue
	// space under the block policy.
	// Default: 5 seconds
	WriteTimeout time.Duration

	// MaxRetries is the number of retries after a failed write.
	// Default: 3
	MaxRetries uint

	// RetryInitialInterval is the first backoff interval between retries.
	// Default: 50ms
	RetryInitialInterval time.Duration

	// RetryBuffer is the capacity of the buffer holding events whose
	// retries were exhausted. When full, the oldest buffered event is lost.
	// Default: 1000
	RetryBuffer int

	// FlushInterval is how often the retry buffer is written again.
	// Default: 30 seconds
	FlushInterval time.Duration
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() *Config {
	return &Config{
		QueueSize:            1000,
		Overflow:             OverflowDropOldest,
		WriteTimeout:         5 * time.Second,
		MaxRetries:           3,
		RetryInitialInterval: 50 * time.Millisecond,
		RetryBuffer:          1000,
		FlushInterval:        30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.Overflow == "" {
		c.Overflow = d.Overflow
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.RetryInitialInterval <= 0 {
		c.RetryInitialInterval = d.RetryInitialInterval
	}
	if c.RetryBuffer <= 0 {
		c.RetryBuffer = d.RetryBuffer
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
}

// Stats is a snapshot of recorder counters.
type Stats struct {
	Recorded int64 `json:"recorded"`
	Dropped  int64 `json:"dropped"`
	Failed   int64 `json:"failed"`
	Pending  int   `json:"pending"`
}

// Recorder writes usage events to storage off the admission path.
//
// Record enqueues and returns; a single background worker writes events with
// exponential backoff. Events whose retries are exhausted wait in a bounded
// retry buffer that is flushed every FlushInterval and on Close. Storage
// ignores duplicate event IDs, so a write that succeeded but reported an
// error is never counted twice.
type Recorder struct {
	storage usage.Storage
	config  *Config
	metrics *Metrics
	logger  *slog.Logger

	queue chan *usage.Event

	retryMu sync.Mutex
	retry   []*usage.Event

	// closeMu orders Record against Close: once closed is set no event
	// can enter the queue, so the final drain sees every accepted event.
	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once
	done      chan struct{}
	stop      chan struct{}
	wg        sync.WaitGroup

	recorded atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64

	dropLog rate.Sometimes
}

// NewRecorder creates a usage recorder and starts its worker.
// metrics may be nil.
func NewRecorder(storage usage.Storage, config *Config, metrics *Metrics) *Recorder {
	if config == nil {
		config = DefaultConfig()
	}
	config.applyDefaults()

	r := &Recorder{
		storage: storage,
		config:  config,
		metrics: metrics,
		logger:  slog.Default().With("component", "usage.recorder"),
		queue:   make(chan *usage.Event, config.QueueSize),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
		dropLog: rate.Sometimes{First: 1, Interval: time.Second},
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("usage recorder initialized",
		"queue_size", config.QueueSize,
		"overflow", config.Overflow,
		"write_timeout", config.WriteTimeout,
		"max_retries", config.MaxRetries,
		"retry_buffer", config.RetryBuffer,
	)

	return r
}

// Record enqueues an event for writing. It never returns an error to the
// caller and, under the drop_oldest policy, never blocks.
func (r *Recorder) Record(event *usage.Event) {
	if event == nil {
		return
	}
	if err := event.Validate(); err != nil {
		r.failed.Add(1)
		r.metrics.incFailed()
		r.logger.Error("discarding invalid usage event", "event_id", event.ID, "error", err)
		return
	}

	r.closeMu.RLock()
	defer r.closeMu.RUnlock()

	if r.closed {
		r.drop(event, "recorder closed")
		return
	}

	if r.config.Overflow == OverflowBlock {
		r.enqueueBlocking(event)
	} else {
		r.enqueueDropOldest(event)
	}
	r.metrics.setQueueDepth(len(r.queue))
}

func (r *Recorder) enqueueDropOldest(event *usage.Event) {
	for {
		select {
		case r.queue <- event:
			return
		default:
		}

		select {
		case oldest := <-r.queue:
			r.drop(oldest, "queue full")
		default:
		}
	}
}

func (r *Recorder) enqueueBlocking(event *usage.Event) {
	timer := time.NewTimer(r.config.WriteTimeout)
	defer timer.Stop()

	select {
	case r.queue <- event:
	case <-timer.C:
		r.drop(event, "queue full")
	case <-r.done:
		r.drop(event, "recorder closed")
	}
}

func (r *Recorder) drop(event *usage.Event, reason string) {
	total := r.dropped.Add(1)
	r.metrics.incDropped()
	r.dropLog.Do(func() {
		r.logger.Warn("dropping usage event",
			"reason", reason,
			"event_id", event.ID,
			"tenant_id", event.TenantID,
			"dropped_total", total,
		)
	})
}

// Stats returns a snapshot of the recorder counters.
func (r *Recorder) Stats() Stats {
	r.retryMu.Lock()
	buffered := len(r.retry)
	r.retryMu.Unlock()

	return Stats{
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
		Failed:   r.failed.Load(),
		Pending:  len(r.queue) + buffered,
	}
}

// Close stops accepting events, drains the queue, flushes the retry buffer
// and waits for the worker to exit. Events still unwritten afterwards are
// counted as failed. Close is idempotent.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.logger.Info("shutting down usage recorder")

		// Wake blocked producers, then wait for in-flight Record calls.
		close(r.done)
		r.closeMu.Lock()
		r.closed = true
		r.closeMu.Unlock()

		close(r.stop)
		r.wg.Wait()

		stats := r.Stats()
		r.logger.Info("usage recorder shut down complete",
			"recorded", stats.Recorded,
			"dropped", stats.Dropped,
			"failed", stats.Failed,
		)
	})
	return nil
}

// worker is the background goroutine that drains the queue and writes
// events to storage.
func (r *Recorder) worker() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-r.queue:
			r.metrics.setQueueDepth(len(r.queue))
			r.write(event)

		case <-ticker.C:
			r.FlushRetries(context.Background())

		case <-r.stop:
			r.logger.Info("draining usage queue before shutdown",
				"pending_count", len(r.queue),
			)
			for {
				select {
				case event := <-r.queue:
					r.write(event)
					continue
				default:
				}
				break
			}
			r.metrics.setQueueDepth(0)

			r.FlushRetries(context.Background())
			r.abandonRetries()
			return
		}
	}
}

// write stores one event with exponential backoff. Events that still fail
// move to the retry buffer; malformed events are counted as failed.
func (r *Recorder) write(event *usage.Event) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.RetryInitialInterval
	b.MaxInterval = r.config.WriteTimeout

	_, err := backoff.Retry(context.Background(), func() (struct{}, error) {
		err := r.store(event)
		var validationErr *usage.ValidationError
		if errors.As(err, &validationErr) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.config.MaxRetries+1),
	)
	if err == nil {
		r.recorded.Add(1)
		r.metrics.incRecorded()
		return
	}

	var validationErr *usage.ValidationError
	if errors.As(err, &validationErr) {
		r.failed.Add(1)
		r.metrics.incFailed()
		r.logger.Error("usage event rejected by storage", "event_id", event.ID, "error", err)
		return
	}

	r.logger.Warn("usage event write failed, buffering for retry",
		"event_id", event.ID,
		"tenant_id", event.TenantID,
		"error", err,
	)
	r.bufferRetry(event)
}

func (r *Recorder) store(event *usage.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()
	return r.storage.Store(ctx, event)
}

func (r *Recorder) bufferRetry(events ...*usage.Event) {
	r.retryMu.Lock()
	defer r.retryMu.Unlock()

	for _, event := range events {
		if len(r.retry) >= r.config.RetryBuffer {
			lost := r.retry[0]
			r.retry = r.retry[1:]
			r.failed.Add(1)
			r.metrics.incFailed()
			r.logger.Error("retry buffer full, losing usage event",
				"event_id", lost.ID,
				"tenant_id", lost.TenantID,
			)
		}
		r.retry = append(r.retry, event)
	}
	r.metrics.setRetryDepth(len(r.retry))
}

// FlushRetries attempts one write of every buffered event and returns how
// many were written. Events that fail again stay buffered.
func (r *Recorder) FlushRetries(ctx context.Context) int {
	r.retryMu.Lock()
	pending := r.retry
	r.retry = nil
	r.retryMu.Unlock()

	if len(pending) == 0 {
		return 0
	}

	var written int
	var again []*usage.Event
	for i, event := range pending {
		if ctx.Err() != nil {
			again = append(again, pending[i:]...)
			break
		}
		if err := r.store(event); err != nil {
			again = append(again, event)
			continue
		}
		written++
		r.recorded.Add(1)
		r.metrics.incRecorded()
	}

	if len(again) > 0 {
		r.bufferRetry(again...)
	} else {
		r.metrics.setRetryDepth(0)
	}

	r.logger.Debug("flushed usage retry buffer",
		"written", written,
		"remaining", len(again),
	)
	return written
}

func (r *Recorder) abandonRetries() {
	r.retryMu.Lock()
	lost := len(r.retry)
	r.retry = nil
	r.retryMu.Unlock()

	if lost == 0 {
		return
	}
	r.failed.Add(int64(lost))
	for i := 0; i < lost; i++ {
		r.metrics.incFailed()
	}
	r.metrics.setRetryDepth(0)
	r.logger.Error("usage events lost at shutdown", "count", lost)
}
