package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Firefox2100/dedi-gateway/pkg/errdefs"
)

// responseTTL caps how long an unconsumed response list survives. A
// stream that never drains its queue would otherwise leave the list
// behind forever.
const responseTTL = 2 * DriverTimeout

// RedisBroker backs the queues with Redis lists so multiple gateway
// replicas can share one mailbox space.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker wraps an existing Redis client. The caller owns the
// client lifecycle unless Close is used.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func nodeQueueKey(nodeID string) string {
	return fmt.Sprintf("message:node:%s", nodeID)
}

func responseQueueKey(messageID string) string {
	return fmt.Sprintf("message:response:%s", messageID)
}

func (b *RedisBroker) Publish(ctx context.Context, nodeID string, frame json.RawMessage) error {
	return b.client.RPush(ctx, nodeQueueKey(nodeID), []byte(frame)).Err()
}

func (b *RedisBroker) Get(ctx context.Context, nodeID string) (json.RawMessage, error) {
	return b.blockingPop(ctx, nodeQueueKey(nodeID))
}

func (b *RedisBroker) AddResponse(ctx context.Context, envelope json.RawMessage) error {
	messageID, err := responseKey(envelope)
	if err != nil {
		return err
	}

	key := responseQueueKey(messageID)
	if err := b.client.RPush(ctx, key, []byte(envelope)).Err(); err != nil {
		return err
	}
	return b.client.Expire(ctx, key, responseTTL).Err()
}

func (b *RedisBroker) ResponseStream(ctx context.Context, messageID string, count int) (<-chan json.RawMessage, <-chan error) {
	envelopes := make(chan json.RawMessage)
	errs := make(chan error, 1)

	key := responseQueueKey(messageID)

	go func() {
		defer close(envelopes)

		for i := 0; i < count; i++ {
			envelope, err := b.blockingPop(ctx, key)
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

// blockingPop pops the head of key, waiting up to DriverTimeout.
func (b *RedisBroker) blockingPop(ctx context.Context, key string) (json.RawMessage, error) {
	vals, err := b.client.BLPop(ctx, DriverTimeout, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errdefs.BrokerTimeout("")
		}
		return nil, err
	}

	// BLPOP returns [key, value]
	if len(vals) < 2 {
		return nil, errdefs.BrokerTimeout("")
	}
	return json.RawMessage(vals[1]), nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

var (
	_ Broker = (*RedisBroker)(nil)
	_ Broker = (*MemoryBroker)(nil)
)
