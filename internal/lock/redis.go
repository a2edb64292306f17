package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when the stored holder matches.
// Returns 1 on delete, 0 when absent, -1 on holder mismatch.
const releaseScript = `
local v = redis.call('GET', KEYS[1])
if not v then
	return 0
end
local ok, holder = pcall(cjson.decode, v)
if ok and holder['actor_id'] == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return -1
`

type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	Exists(ctx context.Context, keys ...string) *goredis.IntCmd
	PTTL(ctx context.Context, key string) *goredis.DurationCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *goredis.ScanCmd
}

type redisHolder struct {
	ActorID    string    `json:"actor_id"`
	ActorLabel string    `json:"actor_label"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Redis is a Manager shared by every runs-api replica. Expiry is the key's
// own PX TTL.
type Redis struct {
	client redisClient
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

func NewRedis(client goredis.UniversalClient, prefix string, logger *slog.Logger) *Redis {
	return newRedis(client, prefix, logger)
}

func newRedis(client redisClient, prefix string, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "raids:lock:"
	}
	return &Redis{client: client, prefix: prefix, logger: logger, now: time.Now}
}

func (r *Redis) redisKey(key Key) string {
	return r.prefix + key.String()
}

func (r *Redis) Acquire(ctx context.Context, key Key, actorID, actorLabel string, ttl time.Duration) (Result, error) {
	rk := r.redisKey(key)
	value, err := json.Marshal(redisHolder{ActorID: actorID, ActorLabel: actorLabel, AcquiredAt: r.now().UTC()})
	if err != nil {
		return Result{}, fmt.Errorf("lock: encode holder: %w", err)
	}

	// A holder that expires between SETNX and GET leaves nothing to report,
	// so try once more before giving up.
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := r.client.SetNX(ctx, rk, value, normalizeTTL(ttl)).Result()
		if err != nil {
			return Result{}, fmt.Errorf("lock: setnx: %w", err)
		}
		if ok {
			return Result{Acquired: true}, nil
		}

		raw, err := r.client.Get(ctx, rk).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return Result{}, fmt.Errorf("lock: get holder: %w", err)
		}
		var holder redisHolder
		if err := json.Unmarshal([]byte(raw), &holder); err != nil {
			r.logger.Warn("lock holder unreadable", "key", rk, "error", err)
		}
		return Result{Acquired: false, HolderLabel: holder.ActorLabel}, nil
	}
	return Result{Acquired: false}, nil
}

func (r *Redis) Release(ctx context.Context, key Key, actorID string) error {
	rk := r.redisKey(key)
	n, err := r.client.Eval(ctx, releaseScript, []string{rk}, actorID).Int()
	if err != nil {
		return fmt.Errorf("lock: release: %w", err)
	}
	if n < 0 {
		r.logger.Warn("lock release by non-holder ignored", "key", rk, "actor_id", actorID)
	}
	return nil
}

func (r *Redis) IsLocked(ctx context.Context, key Key) (bool, error) {
	n, err := r.client.Exists(ctx, r.redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("lock: exists: %w", err)
	}
	return n > 0, nil
}

func (r *Redis) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: scan: %w", err)
		}
		for _, rk := range keys {
			raw, err := r.client.Get(ctx, rk).Result()
			if errors.Is(err, goredis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("lock: get holder: %w", err)
			}
			var holder redisHolder
			if err := json.Unmarshal([]byte(raw), &holder); err != nil {
				continue
			}
			entry := Entry{
				Key:        strings.TrimPrefix(rk, r.prefix),
				ActorID:    holder.ActorID,
				ActorLabel: holder.ActorLabel,
				AcquiredAt: holder.AcquiredAt,
			}
			if ttl, err := r.client.PTTL(ctx, rk).Result(); err == nil && ttl > 0 {
				entry.ExpiresAt = r.now().Add(ttl)
			}
			out = append(out, entry)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
