package channel

import (
	"context"
	"errors"
	"time"

	"github.com/djlord-it/jobrun/internal/domain"
)

// ErrBufferFull is returned by Emit when the buffer stays full past the
// emit timeout. The caller decides whether that is fatal; the reconciler
// picks up runs whose events were dropped.
var ErrBufferFull = errors.New("event bus buffer full")

// MetricsSink receives buffer occupancy updates. Methods must not block.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

type Option func(*EventBus)

// WithEmitTimeout bounds how long Emit blocks on a full buffer.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) { b.emitTimeout = d }
}

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) { b.metrics = sink }
}

type EventBus struct {
	ch          chan domain.TriggerEvent
	emitTimeout time.Duration
	metrics     MetricsSink
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.TriggerEvent, buffer),
		emitTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

func (b *EventBus) Emit(ctx context.Context, event domain.TriggerEvent) error {
	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		if b.metrics != nil {
			b.metrics.BufferSizeUpdate(len(b.ch))
		}
		return nil
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *EventBus) Channel() <-chan domain.TriggerEvent {
	return b.ch
}
