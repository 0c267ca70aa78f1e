package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// KEYS[1] value, KEYS[2] version hash; ARGV value, major, minor, ttl ms.
var setIfNewerScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[2], 'major', 'minor')
if cur[1] then
  local cmaj = tonumber(cur[1])
  local cmin = tonumber(cur[2]) or 0
  local maj = tonumber(ARGV[2])
  local min = tonumber(ARGV[3])
  if cmaj > maj or (cmaj == maj and cmin > min) then
    return 0
  end
end
local ttl = tonumber(ARGV[4])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[1])
end
redis.call('HSET', KEYS[2], 'major', ARGV[2], 'minor', ARGV[3])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`)

// SetIfNewer writes value unless the key already holds a newer version. Versions are
// compared as (major, minor) and must fit in a float64 mantissa, e.g. unix milliseconds.
func (r *RedisCache) SetIfNewer(ctx context.Context, key string, value []byte, major, minor int64, ttl time.Duration) (bool, error) {
	n, err := setIfNewerScript.Run(ctx, r.c, []string{key, key + ":ver"}, value, major, minor, ttl.Milliseconds()).Int()
	if err != nil {
		return false, errors.Wrap(err, "redis set if newer")
	}
	return n == 1, nil
}
