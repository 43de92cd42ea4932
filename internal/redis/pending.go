package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingStore keeps past-date booking requests that wait for the user's
// answer. Take uses GETDEL so each request can be answered only once.
type PendingStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPendingStore creates a store; a zero ttl keeps entries until answered.
func NewPendingStore(client *redis.Client, ttl time.Duration) *PendingStore {
	return &PendingStore{client: client, ttl: ttl}
}

func pendingKey(token string) string {
	return fmt.Sprintf("pending:booking:%s", token)
}

func (p *PendingStore) Save(ctx context.Context, token string, data []byte) error {
	if err := p.client.Set(ctx, pendingKey(token), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("save pending booking: %w", err)
	}
	return nil
}

func (p *PendingStore) Take(ctx context.Context, token string) ([]byte, bool, error) {
	data, err := p.client.GetDel(ctx, pendingKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("take pending booking: %w", err)
	}
	return data, true, nil
}

func (p *PendingStore) Discard(ctx context.Context, token string) error {
	if err := p.client.Del(ctx, pendingKey(token)).Err(); err != nil {
		return fmt.Errorf("discard pending booking: %w", err)
	}
	return nil
}
