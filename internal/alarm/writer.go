package alarm

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sitewatch/monitor/internal/log"
	"github.com/sitewatch/monitor/internal/metrics"
	"github.com/sitewatch/monitor/internal/protocol"
)

const (
	// DefaultWriteQueue is the number of writes a Writer buffers.
	DefaultWriteQueue = 128

	// writeTimeout bounds each Redis write.
	writeTimeout = 2 * time.Second
)

type writeOp struct {
	alarm protocol.Alarm
	push  bool // false = update in place
}

// Writer persists alarms to a Store from a single background goroutine.
// Enqueueing never blocks; writes that find the queue full are dropped.
type Writer struct {
	store   *Store
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	ops    chan writeOp
	wg     sync.WaitGroup
}

// NewWriter starts a Writer for store with room for queue pending writes.
func NewWriter(store *Store, queue int) *Writer {
	if queue < 1 {
		queue = DefaultWriteQueue
	}
	w := &Writer{
		store:   store,
		timeout: writeTimeout,
		logger:  log.WithComponent("alarm-writer"),
		ops:     make(chan writeOp, queue),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Push queues a for Store.Push.
func (w *Writer) Push(a protocol.Alarm) bool {
	return w.enqueue(writeOp{alarm: a, push: true})
}

// Update queues a for Store.Update.
func (w *Writer) Update(a protocol.Alarm) bool {
	return w.enqueue(writeOp{alarm: a})
}

func (w *Writer) enqueue(op writeOp) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.ops <- op:
		return true
	default:
		metrics.AlarmWrites.WithLabelValues("dropped").Inc()
		w.logger.Warn().Str("alarm_id", op.alarm.ID).Msg("write queue full, alarm not persisted")
		return false
	}
}

// Close stops accepting writes and waits for queued ones to finish.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ops)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Writer) run() {
	defer w.wg.Done()
	for op := range w.ops {
		w.write(op)
	}
}

func (w *Writer) write(op writeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var err error
	if op.push {
		err = w.store.Push(ctx, op.alarm)
	} else {
		var ok bool
		ok, err = w.store.Update(ctx, op.alarm)
		if err == nil && !ok {
			w.logger.Debug().Str("alarm_id", op.alarm.ID).Msg("update for alarm not stored")
		}
	}
	if err != nil {
		metrics.AlarmWrites.WithLabelValues("failed").Inc()
		w.logger.Error().Err(err).Msg("failed to persist alarm")
		return
	}
	metrics.AlarmWrites.WithLabelValues("ok").Inc()
}
