// Package blob stores backup documents under a bucket and key. Uploading to
// an existing key keeps the earlier uploads as history.
package blob

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("blob not found")

type Store interface {
	Upload(ctx context.Context, bucket, key string, data []byte) error
	Download(ctx context.Context, bucket, key string) ([]byte, error)
}

const defaultHistory = 50

// RedisStore keeps the latest upload of each key in a string and the recent
// uploads, newest first, in a list beside it.
type RedisStore struct {
	client  *redis.Client
	history int64
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, history: defaultHistory}
}

func latestKey(bucket, key string) string {
	return "blob:" + bucket + ":" + key
}

func historyKey(bucket, key string) string {
	return latestKey(bucket, key) + ":versions"
}

func (s *RedisStore) Upload(ctx context.Context, bucket, key string, data []byte) error {
	value := string(data)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, latestKey(bucket, key), value, 0)
		pipe.LPush(ctx, historyKey(bucket, key), value)
		pipe.LTrim(ctx, historyKey(bucket, key), 0, s.history-1)
		return nil
	})
	return err
}

func (s *RedisStore) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, latestKey(bucket, key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

// MemoryStore is the in-process store used when no Redis is configured.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][][]byte)}
}

func (s *MemoryStore) Upload(ctx context.Context, bucket, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := latestKey(bucket, key)
	s.objects[k] = append(s.objects[k], append([]byte(nil), data...))
	return nil
}

func (s *MemoryStore) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.objects[latestKey(bucket, key)]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return versions[len(versions)-1], nil
}

// Versions returns every upload to the key, oldest first.
func (s *MemoryStore) Versions(bucket, key string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.objects[latestKey(bucket, key)]...)
}
