package eventlog

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink mirrors entries into a capped Redis list, newest first.
type RedisSink struct {
	client     redis.UniversalClient
	ownsClient bool
	key        string
	capacity   int64
	ttl        time.Duration
}

type RedisSinkParams struct {
	// Existing client. When set the sink does not close it.
	Client redis.UniversalClient

	// Used to create a dedicated client when Client is nil.
	// Example: redis://localhost:6379/0
	URL string

	// Defaults to "vai:agents:events".
	KeyPrefix string

	// Session or console id appended to KeyPrefix.
	SessionID string

	// Defaults to DefaultCapacity.
	Capacity int

	// Zero means no expiration.
	TTL time.Duration
}

func NewRedisSink(ctx context.Context, params RedisSinkParams) (*RedisSink, error) {
	if params.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	client := params.Client
	owns := false
	if client == nil {
		if params.URL == "" {
			return nil, fmt.Errorf("redis client or url is required")
		}
		opts, err := redis.ParseURL(params.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opts)
		owns = true
	}

	s := &RedisSink{
		client:     client,
		ownsClient: owns,
		key:        fmt.Sprintf("%s:%s", cmp.Or(params.KeyPrefix, "vai:agents:events"), params.SessionID),
		capacity:   int64(cmp.Or(params.Capacity, DefaultCapacity)),
		ttl:        params.TTL,
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("redis is not reachable: %w", err)
	}
	return s, nil
}

func (s *RedisSink) Append(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, string(payload))
	pipe.LTrim(ctx, s.key, 0, s.capacity-1)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append redis event: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (s *RedisSink) Recent(ctx context.Context, limit int) ([]Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	raw, err := s.client.LRange(ctx, s.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read redis events: %w", err)
	}
	out := make([]Entry, 0, len(raw))
	for _, payload := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisSink) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

var _ Sink = (*RedisSink)(nil)
