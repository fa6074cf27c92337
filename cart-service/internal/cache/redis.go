package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/emart/emart-cart/cart-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 15 * time.Minute

// Each cart lives in a hash:
//
//	version  stored cart version, compared on every write
//	schema   domain.SchemaVersion of the encoded cart
//	cart     JSON encoded domain.Cart
const (
	fieldVersion = "version"
	fieldSchema  = "schema"
	fieldCart    = "cart"
)

// setIfNewer writes the entry unless the cached version is already the same
// or higher, then refreshes the TTL. Returns 1 when written.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'schema', ARGV[2], 'cart', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	if baseTTL <= 0 {
		baseTTL = DefaultTTL
	}
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

// RedisCache keeps the newest known version of each cart. Entries written by
// an older build (different schema) read as a miss.
type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	vals, err := r.client.HMGet(ctx, cacheKey(userID), fieldSchema, fieldCart).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hmget failed: %w", err)
	}

	schema, _ := vals[0].(string)
	data, _ := vals[1].(string)
	if data == "" || schema != strconv.Itoa(domain.SchemaVersion) {
		return nil, ErrCacheMiss
	}

	var cart domain.Cart
	if errUnmarshal := json.Unmarshal([]byte(data), &cart); errUnmarshal != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", errUnmarshal)
	}

	return &cart, nil
}

// Set stores cart unless the cache already holds the same or a newer
// version. Losing that comparison is not an error.
func (r RedisCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	if cart == nil {
		return errors.New("nil cart")
	}
	jsonCart, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	// jitter spreads expiry of carts cached at the same moment
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	ttl := r.baseTTL + jitter

	err = setIfNewer.Run(ctx, r.client, []string{cacheKey(userID)},
		cart.Version, domain.SchemaVersion, jsonCart, ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r RedisCache) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}
