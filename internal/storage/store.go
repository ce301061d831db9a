package storage

import (
	"context"
	"time"
)

// Bucket — раздел кеша. Запись любого сообщения очищает оба раздела.
type Bucket string

const (
	BucketMessages      Bucket = "messages"
	BucketConversations Bucket = "conversations"
)

// Buckets — все разделы, в порядке очистки.
var Buckets = []Bucket{BucketMessages, BucketConversations}

// CacheStore — хранилище кеша клиента: два раздела JSON-значений и одна общая метка свежести.
// Реализации: memory.Client (по умолчанию), redis.Client (общий кеш нескольких процессов).
type CacheStore interface {
	Get(ctx context.Context, bucket Bucket, key string) ([]byte, bool, error)
	Set(ctx context.Context, bucket Bucket, key string, val []byte) error
	// LastUpdate — время последнего успешного обновления; нулевое время, если его не было.
	LastUpdate(ctx context.Context) (time.Time, error)
	Touch(ctx context.Context, at time.Time) error
	// Clear очищает оба раздела, метку не трогает.
	Clear(ctx context.Context) error
	// Reset очищает оба раздела и обнуляет метку.
	Reset(ctx context.Context) error
	Close() error
}
