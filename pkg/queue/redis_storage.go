package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps tasks in Redis.
//
// Keys, per prefix:
//
//	<prefix>:tasks            hash  task id -> task JSON
//	<prefix>:<queue>:due      zset  task id scored by run-at (unix ms)
//	<prefix>:<queue>:locked   zset  task id scored by lock deadline (unix ms)
//	<prefix>:<queue>:dead     list  buried task JSON
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStorage(client redis.UniversalClient, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "queue"
	}
	return &RedisStorage{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStorage) tasksKey() string          { return s.prefix + ":tasks" }
func (s *RedisStorage) dueKey(q string) string    { return s.prefix + ":" + q + ":due" }
func (s *RedisStorage) lockedKey(q string) string { return s.prefix + ":" + q + ":locked" }
func (s *RedisStorage) deadKey(q string) string   { return s.prefix + ":" + q + ":dead" }

func (s *RedisStorage) Push(ctx context.Context, task *Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return errors.Join(ErrPayloadMarshal, err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.tasksKey(), task.ID.String(), raw)
		p.ZAdd(ctx, s.dueKey(task.Queue), redis.Z{Score: float64(task.RunAt.UnixMilli()), Member: task.ID.String()})
		return nil
	})
	return err
}

// claimScript releases expired locks back to the due set, then moves the
// earliest due id into the locked set and returns its JSON.
var claimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('ZADD', KEYS[1], ARGV[1], id)
end
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
redis.call('ZREM', KEYS[1], ids[1])
redis.call('ZADD', KEYS[2], ARGV[2], ids[1])
return redis.call('HGET', KEYS[3], ids[1])
`)

func (s *RedisStorage) Claim(ctx context.Context, queues []string, lock time.Duration) (*Task, error) {
	now := s.now()
	for _, q := range queues {
		raw, err := claimScript.Run(ctx, s.client,
			[]string{s.dueKey(q), s.lockedKey(q), s.tasksKey()},
			now.UnixMilli(), now.Add(lock).UnixMilli(),
		).Text()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("claim from %s: %w", q, err)
		}
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		return &task, nil
	}
	return nil, ErrNoTask
}

func (s *RedisStorage) Ack(ctx context.Context, task *Task) error {
	id := task.ID.String()
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, s.lockedKey(task.Queue), id)
		p.HDel(ctx, s.tasksKey(), id)
		return nil
	})
	return err
}

func (s *RedisStorage) Retry(ctx context.Context, task *Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return errors.Join(ErrPayloadMarshal, err)
	}
	id := task.ID.String()
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.tasksKey(), id, raw)
		p.ZRem(ctx, s.lockedKey(task.Queue), id)
		p.ZAdd(ctx, s.dueKey(task.Queue), redis.Z{Score: float64(task.RunAt.UnixMilli()), Member: id})
		return nil
	})
	return err
}

func (s *RedisStorage) Bury(ctx context.Context, task *Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return errors.Join(ErrPayloadMarshal, err)
	}
	id := task.ID.String()
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, s.lockedKey(task.Queue), id)
		p.ZRem(ctx, s.dueKey(task.Queue), id)
		p.HDel(ctx, s.tasksKey(), id)
		p.RPush(ctx, s.deadKey(task.Queue), raw)
		return nil
	})
	return err
}
