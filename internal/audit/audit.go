// Package audit buffers decision and action records in a bounded
// channel, draining them to the store and, best-effort, to a NATS
// subject for external tailing.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/forgecore/autonomy/internal/store"
)

// Record is one fact worth auditing: a goal approval, a budget cutoff,
// an admission denial.
type Record struct {
	Actor     string
	EventKind string
	SubjectID string
	Payload   any
}

// Log drains Records to the store and, when configured, republishes
// them to NATS for live tailing. Publish never blocks the caller beyond
// the channel send: when the queue is full the new record is dropped
// and counted instead of stalling the scheduler or executor goroutine
// that produced the event.
type Log struct {
	log     *slog.Logger
	store   *store.Store
	nc      *nats.Conn
	subject string
	queue   chan Record
	dropped atomic.Int64
	done    chan struct{}
}

// Config configures the audit log's NATS fan-out. NATSURL empty means
// store-only: no external publish is attempted.
type Config struct {
	QueueSize   int
	NATSURL     string
	NATSSubject string
}

// New constructs a Log and starts its drain goroutine. Callers must call
// Close to stop the drain loop and flush the NATS connection.
func New(log *slog.Logger, st *store.Store, cfg Config) *Log {
	l := &Log{
		log:     log,
		store:   st,
		subject: cfg.NATSSubject,
		queue:   make(chan Record, cfg.QueueSize),
		done:    make(chan struct{}),
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.MaxReconnects(5))
		if err != nil {
			log.Warn("audit: nats connect failed, continuing store-only", "url", cfg.NATSURL, "err", err)
		} else {
			l.nc = nc
		}
	}

	go l.drain()
	return l
}

// Publish enqueues a record. If the queue is full the record is dropped
// and counted rather than blocking the caller.
func (l *Log) Publish(r Record) {
	select {
	case l.queue <- r:
	default:
		l.dropped.Add(1)
		l.log.Warn("audit: queue full, dropping record", "event_kind", r.EventKind, "dropped_total", l.dropped.Load())
	}
}

// Dropped reports the cumulative count of records dropped due to queue
// saturation, exposed on /metrics.
func (l *Log) Dropped() int64 { return l.dropped.Load() }

func (l *Log) drain() {
	for {
		select {
		case r, ok := <-l.queue:
			if !ok {
				return
			}
			l.write(r)
		case <-l.done:
			// Drain whatever remains before exiting so a shutdown
			// doesn't silently lose the last few records.
			for {
				select {
				case r := <-l.queue:
					l.write(r)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) write(r Record) {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		l.log.Error("audit: marshal payload failed", "event_kind", r.EventKind, "err", err)
		payload = []byte(`{}`)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.store.AppendAuditEvent(ctx, store.AuditEvent{
		Actor: r.Actor, EventKind: r.EventKind, SubjectID: r.SubjectID, Payload: string(payload),
	}); err != nil {
		l.log.Error("audit: store append failed", "event_kind", r.EventKind, "err", err)
	}

	if l.nc != nil {
		if err := l.nc.Publish(l.subject, payload); err != nil {
			l.log.Warn("audit: nats publish failed", "subject", l.subject, "err", err)
		}
	}
}

// Close stops the drain loop and closes the NATS connection.
func (l *Log) Close() {
	close(l.done)
	if l.nc != nil {
		l.nc.Close()
	}
}
