package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	redisItemPrefix = "attrs:"
	redisIndexKey   = "attrs:__items__"
)

// The precondition is checked and the write applied inside one script, which
// Redis runs atomically.
const putScript = `
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if ARGV[2] == '1' then
  if cur ~= ARGV[3] then return redis.error_reply('CONDFAILED') end
elseif cur then
  return redis.error_reply('CONDFAILED')
end
redis.call('HSET', KEYS[1], unpack(ARGV, 5))
redis.call('SADD', KEYS[2], ARGV[4])
return 1
`

const deleteScript = `
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if ARGV[2] == '1' then
  if not cur then return redis.error_reply('NOATTR') end
  if cur ~= ARGV[3] then return redis.error_reply('CONDFAILED') end
elseif cur then
  return redis.error_reply('CONDFAILED')
end
redis.call('HDEL', KEYS[1], ARGV[5])
if redis.call('HLEN', KEYS[1]) == 0 then redis.call('SREM', KEYS[2], ARGV[4]) end
return 1
`

// RedisStore keeps one hash per item plus a set indexing the item names.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func itemKey(item string) string {
	return redisItemPrefix + item
}

func (s *RedisStore) Get(ctx context.Context, item string) ([]Attribute, error) {
	values, err := s.client.HGetAll(ctx, itemKey(item)).Result()
	if err != nil {
		return nil, mapRedisError(err)
	}
	return toAttributes(values), nil
}

func (s *RedisStore) Put(ctx context.Context, item string, attrs []Attribute, cond Condition) error {
	if len(attrs) == 0 {
		return fmt.Errorf("put to item %s: no attributes", item)
	}
	args := []interface{}{cond.Name, flag(cond.Exists), cond.Value, item}
	for _, a := range attrs {
		args = append(args, a.Name, a.Value)
	}
	err := s.client.Eval(ctx, putScript, []string{itemKey(item), redisIndexKey}, args...).Err()
	return mapRedisError(err)
}

func (s *RedisStore) Delete(ctx context.Context, item string, attr Attribute, cond Condition) error {
	args := []interface{}{cond.Name, flag(cond.Exists), cond.Value, item, attr.Name}
	err := s.client.Eval(ctx, deleteScript, []string{itemKey(item), redisIndexKey}, args...).Err()
	return mapRedisError(err)
}

func (s *RedisStore) DeleteAll(ctx context.Context, item string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, itemKey(item))
		pipe.SRem(ctx, redisIndexKey, item)
		return nil
	})
	return mapRedisError(err)
}

func (s *RedisStore) SelectAll(ctx context.Context) ([]Item, error) {
	names, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, mapRedisError(err)
	}
	sort.Strings(names)

	items := make([]Item, 0, len(names))
	for _, name := range names {
		values, err := s.client.HGetAll(ctx, itemKey(name)).Result()
		if err != nil {
			return nil, mapRedisError(err)
		}
		if len(values) == 0 {
			continue
		}
		items = append(items, Item{Name: name, Attributes: toAttributes(values)})
	}
	return items, nil
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func mapRedisError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "CONDFAILED"):
		return ErrConditionalCheckFailed
	case strings.HasPrefix(msg, "NOATTR"):
		return ErrAttributeDoesNotExist
	case strings.HasPrefix(msg, "BUSY"),
		strings.HasPrefix(msg, "LOADING"),
		strings.HasPrefix(msg, "TRYAGAIN"),
		strings.Contains(msg, "connection pool timeout"):
		return fmt.Errorf("%w: %v", ErrThrottled, err)
	}
	return err
}
