// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list the historian drains.
var DefaultQueueName = "skirmish_actions"

// DefaultTTL is the expiry applied to room and game snapshots.
const DefaultTTL = time.Hour

// Store is the best-effort snapshot cache shared by the room and game layers.
// Get reports a miss as (false, nil).
type Store interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RoomKey is the cache key of a room snapshot.
func RoomKey(roomID string) string { return "room:" + roomID }

// GameKey is the cache key of a game snapshot.
func GameKey(roomID string) string { return "game:" + roomID }

// ActionRecord holds the minimal info needed by the historian.
type ActionRecord struct {
	RoomID        string         `json:"room_id"`
	ActionIndex   int            `json:"action_index"`
	ActorUserID   string         `json:"actor_user_id"`
	ActionType    string         `json:"action_type"`
	ActionPayload map[string]any `json:"action_payload"`
	Timestamp     int64          `json:"timestamp"`
}

// Redis is a Store backed by a go-redis client. It also publishes historian records.
type Redis struct {
	Rdb   *redis.Client
	Queue string
}

// ConnectRedis dials addr and pings it once.
func ConnectRedis(ctx context.Context, addr string, db int, queue string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Redis{Rdb: rdb, Queue: queue}, nil
}

func (r *Redis) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := r.Rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := r.Rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.Rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// PublishAction serializes the record and pushes it onto the historian queue.
func (r *Redis) PublishAction(ctx context.Context, record ActionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal ActionRecord: %w", err)
	}
	if err := r.Rdb.RPush(ctx, r.Queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", r.Queue, err)
	}
	return nil
}

// NextAction blocks up to wait for one historian record. A timeout returns
// (nil, nil).
func (r *Redis) NextAction(ctx context.Context, wait time.Duration) (*ActionRecord, error) {
	res, err := r.Rdb.BLPop(ctx, wait, r.Queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("BLPOP %s: %w", r.Queue, err)
	}
	// res is [queue, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply of %d elements", len(res))
	}
	var rec ActionRecord
	if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
		return nil, fmt.Errorf("malformed historian record: %w", err)
	}
	return &rec, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.Rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.Rdb.Close()
}
