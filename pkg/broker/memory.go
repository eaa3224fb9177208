package broker

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
)

// queue is an unbounded FIFO with blocking pop. The wake channel
// carries at most one pending signal; pop re-arms it when items remain
// so chained consumers are not lost.
type queue struct {
	mu    sync.Mutex
	items []json.RawMessage
	wake  chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

func (q *queue) push(item json.RawMessage) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) pop(ctx context.Context, timeout time.Duration) (json.RawMessage, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()

			if remaining > 0 {
				select {
				case q.wake <- struct{}{}:
				default:
				}
			}
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-q.wake:
		case <-deadline.C:
			return nil, errdefs.BrokerTimeout("")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// MemoryBroker keeps all queues in process memory. Suitable for tests
// and single-instance deployments.
type MemoryBroker struct {
	mu        sync.Mutex
	nodes     map[string]*queue
	responses map[string]*queue
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		nodes:     make(map[string]*queue),
		responses: make(map[string]*queue),
	}
}

func (b *MemoryBroker) nodeQueue(nodeID string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.nodes[nodeID]
	if !ok {
		q = newQueue()
		b.nodes[nodeID] = q
	}
	return q
}

func (b *MemoryBroker) responseQueue(messageID string) *queue {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.responses[messageID]
	if !ok {
		q = newQueue()
		b.responses[messageID] = q
	}
	return q
}

func (b *MemoryBroker) dropResponseQueue(messageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.responses, messageID)
}

func (b *MemoryBroker) Publish(_ context.Context, nodeID string, frame json.RawMessage) error {
	b.nodeQueue(nodeID).push(frame)
	return nil
}

func (b *MemoryBroker) Get(ctx context.Context, nodeID string) (json.RawMessage, error) {
	return b.nodeQueue(nodeID).pop(ctx, DriverTimeout)
}

func (b *MemoryBroker) AddResponse(_ context.Context, envelope json.RawMessage) error {
	messageID, err := responseKey(envelope)
	if err != nil {
		return err
	}
	b.responseQueue(messageID).push(envelope)
	return nil
}

func (b *MemoryBroker) ResponseStream(ctx context.Context, messageID string, count int) (<-chan json.RawMessage, <-chan error) {
	envelopes := make(chan json.RawMessage)
	errs := make(chan error, 1)

	q := b.responseQueue(messageID)

	go func() {
		defer close(envelopes)
		defer b.dropResponseQueue(messageID)

		for i := 0; i < count; i++ {
			envelope, err := q.pop(ctx, DriverTimeout)
			if err != nil {
				errs <- err
				return
			}

			select {
			case envelopes <- envelope:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()

	return envelopes, errs
}

func (b *MemoryBroker) Close() error {
	return nil
}
