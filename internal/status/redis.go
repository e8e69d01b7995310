package status

import (
	"context"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix is prepended to every run key.
const DefaultPrefix = "hygiene:run:"

// Redis stores each snapshot as a hash under "<prefix><run id>".
type Redis struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithTTL sets the key expiry. Zero keeps keys forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// NewRedis connects to a Redis server at addr.
func NewRedis(addr, password string, db int, opts ...RedisOption) *Redis {
	return NewRedisFromClient(backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *backend.Client, opts ...RedisOption) *Redis {
	r := &Redis{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(runID string) string {
	return r.prefix + runID
}

// Put writes the snapshot as a hash and refreshes the configured TTL.
func (r *Redis) Put(ctx context.Context, s Snapshot) error {
	key := r.key(s.RunID)
	_, err := r.client.TxPipelined(ctx, func(p backend.Pipeliner) error {
		p.HSet(ctx, key, map[string]any{
			"run_id":  s.RunID,
			"state":   s.State,
			"message": s.Message,
			"seq":     strconv.FormatInt(s.Seq, 10),
			"done":    strconv.FormatBool(s.Done),
			"success": strconv.FormatBool(s.Success),
		})
		if r.ttl > 0 {
			p.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put status %s: %w", s.RunID, err)
	}
	return nil
}

// Get reads the snapshot for runID.
func (r *Redis) Get(ctx context.Context, runID string) (Snapshot, error) {
	fields, err := r.client.HGetAll(ctx, r.key(runID)).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("get status %s: %w", runID, err)
	}
	if len(fields) == 0 {
		return Snapshot{}, ErrNotFound
	}

	s := Snapshot{RunID: fields["run_id"], State: fields["state"], Message: fields["message"]}
	if s.Seq, err = strconv.ParseInt(fields["seq"], 10, 64); err != nil {
		return Snapshot{}, fmt.Errorf("get status %s: seq: %w", runID, err)
	}
	if s.Done, err = strconv.ParseBool(fields["done"]); err != nil {
		return Snapshot{}, fmt.Errorf("get status %s: done: %w", runID, err)
	}
	if s.Success, err = strconv.ParseBool(fields["success"]); err != nil {
		return Snapshot{}, fmt.Errorf("get status %s: success: %w", runID, err)
	}
	return s, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
