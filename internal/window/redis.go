package window

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultTTL is the absolute per-zone key expiry used as a backstop for
// zones that stop receiving samples; eager trimming on every write is the
// primary cleanup mechanism.
const DefaultTTL = 10 * time.Minute

// recordScript atomically trims entries older than the trend window and
// appends the new sample. ZSET scores are the sample timestamps in unix
// milliseconds; members carry the risk score plus a sequence suffix so
// concurrent same-zone writers never collide.
var recordScript = redis.NewScript(`
	local key = KEYS[1]
	local ts = tonumber(ARGV[1])
	local cutoff = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])
	local score = ARGV[4]

	redis.call('ZREMRANGEBYSCORE', key, '-inf', cutoff)
	local seq = redis.call('INCR', key .. ':seq')
	redis.call('ZADD', key, ts, score .. ':' .. seq)
	redis.call('PEXPIRE', key, ttl)
	redis.call('PEXPIRE', key .. ':seq', ttl)
	return 1
`)

// Redis is the networked Store variant, one sorted set per zone.
type Redis struct {
	rdb    *redis.Client
	window time.Duration // trend window used for eager trimming
	ttl    time.Duration
}

// NewRedis creates a Redis store that trims entries older than window on
// every write and expires idle zone keys after ttl (DefaultTTL if zero).
func NewRedis(rdb *redis.Client, window, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, window: window, ttl: ttl}
}

// Ping reports whether the Redis backend is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Record appends a sample to the zone's sorted set and trims stale entries,
// atomically via a server-side script.
func (r *Redis) Record(ctx context.Context, zone string, score float64, at time.Time) error {
	ts := at.UnixMilli()
	cutoff := ts - r.window.Milliseconds()
	err := recordScript.Run(ctx, r.rdb,
		[]string{r.key(zone)},
		ts, cutoff, r.ttl.Milliseconds(),
		strconv.FormatFloat(score, 'f', 4, 64),
	).Err()
	if err != nil {
		return fmt.Errorf("window: record zone %s: %w", zone, err)
	}
	return nil
}

// Recent returns the zone's samples within the window, oldest first.
func (r *Redis) Recent(ctx context.Context, zone string, window time.Duration) ([]Sample, error) {
	cutoff := time.Now().Add(-window).UnixMilli()
	entries, err := r.rdb.ZRangeByScoreWithScores(ctx, r.key(zone), &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("window: recent zone %s: %w", zone, err)
	}

	out := make([]Sample, 0, len(entries))
	for _, e := range entries {
		member, ok := e.Member.(string)
		if !ok {
			continue
		}
		raw, _, _ := strings.Cut(member, ":")
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue // malformed member; skip rather than fail the read
		}
		out = append(out, Sample{
			Score: score,
			At:    time.UnixMilli(int64(e.Score)).UTC(),
		})
	}
	return out, nil
}

func (r *Redis) key(zone string) string {
	return "crowdwatch:window:" + zone
}
