package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const onlineUsersKey = "online_users"

func userConnsKey(userID string) string { return "user_conns:" + userID }

// Membership mutation, cardinality read and online-set maintenance run
// inside one script so concurrent closes of the same user's connections
// cannot race to a double broadcast.
const luaAddAndCount = `
local connsKey  = KEYS[1]
local onlineKey = KEYS[2]
local connID = ARGV[1]
local ttl    = tonumber(ARGV[2])
local userID = ARGV[3]

local added = redis.call("SADD", connsKey, connID)
redis.call("EXPIRE", connsKey, ttl)
local n = redis.call("SCARD", connsKey)
if n == 1 then
  redis.call("SADD", onlineKey, userID)
end
return {added, n}
`

const luaRemoveAndCount = `
local connsKey  = KEYS[1]
local onlineKey = KEYS[2]
local connID = ARGV[1]
local userID = ARGV[2]

local removed = redis.call("SREM", connsKey, connID)
local n = redis.call("SCARD", connsKey)
if n == 0 then
  redis.call("DEL", connsKey)
  redis.call("SREM", onlineKey, userID)
end
return {removed, n}
`

type RedisPresence struct {
	rdb *redis.Client
	ttl time.Duration

	luaAdd    *redis.Script
	luaRemove *redis.Script
}

func NewRedisPresence(rdb *redis.Client, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisPresence{
		rdb:       rdb,
		ttl:       ttl,
		luaAdd:    redis.NewScript(luaAddAndCount),
		luaRemove: redis.NewScript(luaRemoveAndCount),
	}
}

func (p *RedisPresence) AddAndCount(ctx context.Context, userID, connID string) (bool, int64, error) {
	keys := []string{userConnsKey(userID), onlineUsersKey}
	vals, err := p.luaAdd.Run(ctx, p.rdb, keys, connID, int64(p.ttl/time.Second), userID).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	return vals[0] == 1, vals[1], nil
}

func (p *RedisPresence) RemoveAndCount(ctx context.Context, userID, connID string) (bool, int64, error) {
	keys := []string{userConnsKey(userID), onlineUsersKey}
	vals, err := p.luaRemove.Run(ctx, p.rdb, keys, connID, userID).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	return vals[0] == 1, vals[1], nil
}

// Touch re-arms the TTL on the connection set, keeping a long-lived
// connection present past the registration-time expiry.
func (p *RedisPresence) Touch(ctx context.Context, userID string) error {
	return p.rdb.Expire(ctx, userConnsKey(userID), p.ttl).Err()
}

func (p *RedisPresence) ListOnline(ctx context.Context) ([]string, error) {
	return p.rdb.SMembers(ctx, onlineUsersKey).Result()
}
