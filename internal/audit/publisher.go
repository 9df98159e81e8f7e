package audit

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/epoch-ledger/internal/metrics"
)

const defaultBuffer = 1024

// Publisher hands events to a Store on a background goroutine.
// When the buffer is full new events are dropped and counted.
type Publisher struct {
	store   Store
	log     *zap.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	ch     chan Event
	done   chan struct{}
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithBuffer sets the queue capacity.
func WithBuffer(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.ch = make(chan Event, n)
		}
	}
}

// WithMetrics counts dropped events.
func WithMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) { p.metrics = m }
}

// WithStoreTimeout bounds each Store.Append call.
func WithStoreTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) { p.timeout = d }
}

// NewPublisher starts the background writer.
func NewPublisher(store Store, log *zap.Logger, opts ...PublisherOption) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{
		store:   store,
		log:     log,
		timeout: 5 * time.Second,
		ch:      make(chan Event, defaultBuffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	go p.run()
	return p
}

// Emit enqueues ev. It fills in ID and OccurredAt when unset.
func (p *Publisher) Emit(_ context.Context, ev Event) {
	if ev.ID == uuid.Nil {
		if id, err := uuid.NewV7(); err == nil {
			ev.ID = id
		}
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop(ev, "publisher closed")
		return
	}
	select {
	case p.ch <- ev:
	default:
		p.drop(ev, "buffer full")
	}
}

func (p *Publisher) drop(ev Event, why string) {
	p.metrics.AuditDropped()
	p.log.Warn("audit event dropped",
		zap.String("reason", why),
		zap.String("action", string(ev.Action)),
		zap.String("event_id", ev.ID.String()),
	)
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.ch {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.store.Append(ctx, ev); err != nil {
			p.log.Error("audit append failed",
				zap.String("action", string(ev.Action)),
				zap.String("event_id", ev.ID.String()),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Close stops accepting events and waits until queued ones are written
// or ctx is done.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.ch)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogStore writes events to a zap logger. Useful when no database sink is wanted.
type LogStore struct{ Log *zap.Logger }

// Append implements Store.
func (s LogStore) Append(_ context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID.String()),
		zap.String("action", string(ev.Action)),
		zap.Time("occurred_at", ev.OccurredAt),
		zap.String("actor_id", ev.ActorID.String()),
		zap.String("subject_id", ev.SubjectID.String()),
	}
	if ev.ResourceID != uuid.Nil {
		fields = append(fields, zap.String("resource_id", ev.ResourceID.String()))
	}
	if len(ev.Detail) > 0 {
		fields = append(fields, zap.Any("detail", ev.Detail))
	}
	s.Log.Info("audit", fields...)
	return nil
}
