package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) *Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		opt = &redis.Options{
			Addr: redisURL,
		}
	}

	client := redis.NewClient(opt)

	return &Client{client}
}

func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.Set(ctx, key, data, expiration).Err()
}

func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), dest)
}

// API key lookups are cached under a digest of the raw key, never the key
// itself. The short TTL bounds how long a disabled key keeps working.
func apiKeyCacheKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return fmt.Sprintf("apikey:%s", hex.EncodeToString(sum[:]))
}

func (c *Client) CacheAPIKey(ctx context.Context, rawKey string, v interface{}, ttl time.Duration) error {
	return c.SetJSON(ctx, apiKeyCacheKey(rawKey), v, ttl)
}

func (c *Client) GetCachedAPIKey(ctx context.Context, rawKey string, dest interface{}) error {
	return c.GetJSON(ctx, apiKeyCacheKey(rawKey), dest)
}

func (c *Client) InvalidateAPIKey(ctx context.Context, rawKey string) error {
	return c.Del(ctx, apiKeyCacheKey(rawKey)).Err()
}
