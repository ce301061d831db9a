package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/messenger-client/internal/storage"
)

// Разделы кеша — хеши {ns}:messages и {ns}:conversations; метка свежести — {ns}:last_update (unix ms).
// TTL ключей ограничивает мусор от упавших клиентов; свежесть решает метка, не TTL.
const keyTTL = 24 * time.Hour

type Client struct {
	cli *redis.Client
	ns  string
}

func New(ctx context.Context, url, namespace string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if namespace == "" {
		namespace = "messenger-client"
	}
	return &Client{cli: cli, ns: namespace}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) bucketKey(b storage.Bucket) string { return c.ns + ":" + string(b) }
func (c *Client) stampKey() string                  { return c.ns + ":last_update" }

func (c *Client) Get(ctx context.Context, bucket storage.Bucket, key string) ([]byte, bool, error) {
	val, err := c.cli.HGet(ctx, c.bucketKey(bucket), key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *Client) Set(ctx context.Context, bucket storage.Bucket, key string, val []byte) error {
	k := c.bucketKey(bucket)
	pipe := c.cli.TxPipeline()
	pipe.HSet(ctx, k, key, val)
	pipe.Expire(ctx, k, keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *Client) LastUpdate(ctx context.Context) (time.Time, error) {
	val, err := c.cli.Get(ctx, c.stampKey()).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(ms), nil
}

func (c *Client) Touch(ctx context.Context, at time.Time) error {
	return c.cli.Set(ctx, c.stampKey(), strconv.FormatInt(at.UnixMilli(), 10), keyTTL).Err()
}

func (c *Client) Clear(ctx context.Context) error {
	keys := make([]string, 0, len(storage.Buckets))
	for _, b := range storage.Buckets {
		keys = append(keys, c.bucketKey(b))
	}
	return c.cli.Del(ctx, keys...).Err()
}

// Reset очищает разделы и метку одной командой DEL.
func (c *Client) Reset(ctx context.Context) error {
	keys := []string{c.stampKey()}
	for _, b := range storage.Buckets {
		keys = append(keys, c.bucketKey(b))
	}
	return c.cli.Del(ctx, keys...).Err()
}

var _ storage.CacheStore = (*Client)(nil)
