package memory

import (
	"context"
	"sync"
	"time"

	"github.com/messenger-client/internal/storage"
)

type Client struct {
	mu         sync.RWMutex
	buckets    map[storage.Bucket]map[string][]byte
	lastUpdate time.Time
}

func New() *Client {
	c := &Client{}
	c.dropBuckets()
	return c
}

func (c *Client) dropBuckets() {
	c.buckets = make(map[storage.Bucket]map[string][]byte, len(storage.Buckets))
	for _, b := range storage.Buckets {
		c.buckets[b] = make(map[string][]byte)
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) Get(ctx context.Context, bucket storage.Bucket, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.buckets[bucket][key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (c *Client) Set(ctx context.Context, bucket storage.Bucket, key string, val []byte) error {
	stored := make([]byte, len(val))
	copy(stored, val)
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.buckets[bucket]
	if !ok {
		m = make(map[string][]byte)
		c.buckets[bucket] = m
	}
	m[key] = stored
	return nil
}

func (c *Client) LastUpdate(ctx context.Context) (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate, nil
}

func (c *Client) Touch(ctx context.Context, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUpdate = at
	return nil
}

func (c *Client) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropBuckets()
	return nil
}

func (c *Client) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropBuckets()
	c.lastUpdate = time.Time{}
	return nil
}

var _ storage.CacheStore = (*Client)(nil)
