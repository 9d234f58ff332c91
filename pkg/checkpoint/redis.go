package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher stores checkpoints in a Redis list per ledger. RPUSH
// gives an external append-only record; hardening the Redis deployment
// against the same insider the ledger defends against (ACLs, separate
// custody) is the operator's concern.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a publisher backed by Redis.
func NewRedisPublisher(addr, password string, db int) *RedisPublisher {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisPublisher{client: rdb}
}

func key(ledgerID string) string {
	return fmt.Sprintf("audit:checkpoints:%s", ledgerID)
}

// Publish appends cp to the ledger's checkpoint list.
func (p *RedisPublisher) Publish(ctx context.Context, cp Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}
	if err := p.client.RPush(ctx, key(cp.LedgerID), raw).Err(); err != nil {
		return fmt.Errorf("checkpoint: publish: %w", err)
	}
	return nil
}

// List returns all checkpoints published for ledgerID, oldest first.
func (p *RedisPublisher) List(ctx context.Context, ledgerID string) ([]Checkpoint, error) {
	raws, err := p.client.LRange(ctx, key(ledgerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	cps := make([]Checkpoint, 0, len(raws))
	for _, raw := range raws {
		var cp Checkpoint
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			return nil, fmt.Errorf("checkpoint: decode: %w", err)
		}
		cps = append(cps, cp)
	}
	return cps, nil
}

// Close releases the underlying client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
