// ABOUTME: Non-blocking audit event dispatcher feeding the store-backed audit log
// ABOUTME: Emit never blocks the caller; a full queue drops the event with a warning

package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/warren/internal/store"
)

const (
	// queueSize bounds how many audit events may be in flight before
	// Emit starts dropping.
	queueSize = 256

	// writeTimeout bounds each audit write so a stuck store cannot wedge
	// the consumer goroutine.
	writeTimeout = 5 * time.Second
)

// Sink is where audit entries ultimately land.
type Sink interface {
	AppendAudit(ctx context.Context, e *store.AuditEntry) error
}

// Dispatcher accepts audit events on a bounded queue and writes them to the
// sink from a single consumer goroutine. Observability never blocks the
// critical path: Emit is non-blocking and write failures are swallowed
// after logging.
type Dispatcher struct {
	sink   Sink
	queue  chan *store.AuditEntry
	logger *slog.Logger

	wg     sync.WaitGroup
	once   sync.Once
	closed chan struct{}
}

// NewDispatcher creates a Dispatcher and starts its consumer goroutine.
// Pass nil logger for default.
func NewDispatcher(sink Sink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sink:   sink,
		queue:  make(chan *store.AuditEntry, queueSize),
		logger: logger.With("component", "audit"),
		closed: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.consume()
	return d
}

// Emit queues an audit entry for asynchronous persistence. It never blocks:
// if the queue is full or the dispatcher is closed, the event is dropped
// with a warning. The queue channel is never closed, so a concurrent Emit
// racing Close can at worst drop an event, never panic.
func (d *Dispatcher) Emit(e *store.AuditEntry) {
	select {
	case <-d.closed:
		d.logger.Warn("audit dispatcher closed, dropping event",
			"action", e.Action,
			"conversation_id", e.ConversationID)
	default:
		select {
		case d.queue <- e:
		default:
			d.logger.Warn("audit queue full, dropping event",
				"action", e.Action,
				"conversation_id", e.ConversationID)
		}
	}
}

// Close stops accepting events and waits for queued entries to drain.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.closed)
	})
	d.wg.Wait()
}

// consume drains the queue until closed, then flushes whatever is still
// buffered before exiting.
func (d *Dispatcher) consume() {
	defer d.wg.Done()

	for {
		select {
		case e := <-d.queue:
			d.write(e)
		case <-d.closed:
			for {
				select {
				case e := <-d.queue:
					d.write(e)
				default:
					return
				}
			}
		}
	}
}

// write persists one entry with its own timeout context.
func (d *Dispatcher) write(e *store.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := d.sink.AppendAudit(ctx, e); err != nil {
		d.logger.Error("failed to write audit entry",
			"error", err,
			"action", e.Action,
			"conversation_id", e.ConversationID)
	}
}
