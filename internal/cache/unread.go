package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	unreadKeyPrefix  = "portal:unread:"
	versionKeyPrefix = "portal:unread-ver:"
	versionKeyTTL    = 7 * 24 * time.Hour
)

// fillScript writes the count only while the version is still the one the
// caller read before querying the store. KEYS: count, version. ARGV: n,
// version, ttl ms.
var fillScript = redis.NewScript(`
local current = redis.call("GET", KEYS[2]) or "0"
if current ~= ARGV[2] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)

// NewRedisClient accepts either a redis:// URL or a bare host:port and
// verifies the server answers.
func NewRedisClient(ctx context.Context, raw string) (*redis.Client, error) {
	opts, err := clientOptions(raw)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func clientOptions(raw string) (*redis.Options, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty redis address")
	}
	if strings.HasPrefix(raw, "redis://") || strings.HasPrefix(raw, "rediss://") {
		return redis.ParseURL(raw)
	}
	return &redis.Options{Addr: raw, DB: 0}, nil
}

// UnreadCounts caches per-user unread message counts. Every invalidation
// bumps a per-user version so a fill computed before the invalidation is
// discarded instead of overwriting the fresher state.
type UnreadCounts struct {
	client *redis.Client
	ttl    time.Duration
}

func NewUnreadCounts(client *redis.Client, ttl time.Duration) *UnreadCounts {
	return &UnreadCounts{client: client, ttl: ttl}
}

// Get returns the cached count when ok is true. On a miss it returns the
// version to hand back to Fill.
func (c *UnreadCounts) Get(ctx context.Context, userID uuid.UUID) (int, bool, int64, error) {
	vals, err := c.client.MGet(ctx, unreadKey(userID), versionKey(userID)).Result()
	if err != nil {
		return 0, false, 0, err
	}

	version, err := parseOptionalInt(vals[1])
	if err != nil {
		return 0, false, 0, err
	}
	if vals[0] == nil {
		return 0, false, version, nil
	}
	n, err := parseOptionalInt(vals[0])
	if err != nil {
		return 0, false, 0, err
	}
	return int(n), true, version, nil
}

// Fill stores n unless the entry was invalidated after version was read.
func (c *UnreadCounts) Fill(ctx context.Context, userID uuid.UUID, n int, version int64) error {
	keys := []string{unreadKey(userID), versionKey(userID)}
	return fillScript.Run(ctx, c.client, keys, n, version, c.ttl.Milliseconds()).Err()
}

func (c *UnreadCounts) Invalidate(ctx context.Context, userID uuid.UUID) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, unreadKey(userID))
		pipe.Incr(ctx, versionKey(userID))
		pipe.Expire(ctx, versionKey(userID), versionKeyTTL)
		return nil
	})
	return err
}

func unreadKey(userID uuid.UUID) string {
	return unreadKeyPrefix + userID.String()
}

func versionKey(userID uuid.UUID) string {
	return versionKeyPrefix + userID.String()
}

// parseOptionalInt reads an MGET slot; a missing key counts as zero.
func parseOptionalInt(v any) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("unexpected redis value type")
	}
	return strconv.ParseInt(s, 10, 64)
}
