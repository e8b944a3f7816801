package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"reminders/internal/domain"
)

const (
	redisIndexKey   = "reminders:messages"
	redisMaxRetries = 5
)

// RedisStore keeps each message in a hash and indexes ids in a sorted set
// scored by scheduled time, so window queries are ZRANGEBYSCORE.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

type redisReader interface {
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func messageKey(id string) string { return "reminders:message:" + id }

func (s *RedisStore) Insert(ctx context.Context, m domain.Message) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	if m.ID == "" {
		m.ID = newID()
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		writeMessage(ctx, pipe, m)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return m.ID, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (domain.Message, error) {
	m, ok, err := readMessage(ctx, s.client, id)
	if err != nil {
		return domain.Message{}, fmt.Errorf("get message: %w", err)
	}
	if !ok {
		return domain.Message{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *RedisStore) List(ctx context.Context) ([]domain.Message, error) {
	return s.query(ctx, s.client, Filter{})
}

func (s *RedisStore) FindInWindow(ctx context.Context, start, end time.Time) ([]domain.Message, error) {
	return s.query(ctx, s.client, Filter{From: &start, To: &end})
}

func (s *RedisStore) DeleteWhere(ctx context.Context, f Filter) (int, error) {
	var n int
	err := s.atomically(ctx, func(tx *redis.Tx) error {
		msgs, err := s.query(ctx, tx, f)
		if err != nil {
			return err
		}
		n = len(msgs)
		if n == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range msgs {
				pipe.Del(ctx, messageKey(m.ID))
				pipe.ZRem(ctx, redisIndexKey, m.ID)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return n, nil
}

func (s *RedisStore) UpdateWhere(ctx context.Context, f Filter, p Patch) (int, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}
	if p.Empty() {
		return 0, nil
	}
	var n int
	err := s.atomically(ctx, func(tx *redis.Tx) error {
		msgs, err := s.query(ctx, tx, f)
		if err != nil {
			return err
		}
		n = len(msgs)
		if n == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, m := range msgs {
				p.Apply(&m)
				writeMessage(ctx, pipe, m)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("update messages: %w", err)
	}
	return n, nil
}

func (s *RedisStore) DeleteByID(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, messageKey(id))
		pipe.ZRem(ctx, redisIndexKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if del.Val() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *RedisStore) UpdateByID(ctx context.Context, id string, p Patch) error {
	if err := p.validate(); err != nil {
		return err
	}
	err := s.atomically(ctx, func(tx *redis.Tx) error {
		if err := tx.Watch(ctx, messageKey(id)).Err(); err != nil {
			return err
		}
		m, ok, err := readMessage(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotFound
		}
		p.Apply(&m)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			writeMessage(ctx, pipe, m)
			return nil
		})
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) (int, error) {
	return s.DeleteWhere(ctx, Filter{})
}

// atomically runs fn under WATCH on the index, retrying when a concurrent
// writer invalidates the transaction.
func (s *RedisStore) atomically(ctx context.Context, fn func(tx *redis.Tx) error) error {
	var err error
	for i := 0; i < redisMaxRetries; i++ {
		err = s.client.Watch(ctx, fn, redisIndexKey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// query loads the messages in the filter's time range and applies the rest
// of the filter client side. Inside a transaction the loaded hashes are
// watched as well.
func (s *RedisStore) query(ctx context.Context, c redisReader, f Filter) ([]domain.Message, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if f.From != nil {
		rng.Min = strconv.FormatInt(toMillis(*f.From), 10)
	}
	if f.To != nil {
		rng.Max = strconv.FormatInt(toMillis(*f.To), 10)
	}
	ids, err := c.ZRangeByScore(ctx, redisIndexKey, rng).Result()
	if err != nil {
		return nil, err
	}
	if tx, ok := c.(*redis.Tx); ok && len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = messageKey(id)
		}
		if err := tx.Watch(ctx, keys...).Err(); err != nil {
			return nil, err
		}
	}

	var msgs []domain.Message
	for _, id := range ids {
		m, ok, err := readMessage(ctx, c, id)
		if err != nil {
			return nil, err
		}
		if ok && f.Match(m) {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

func readMessage(ctx context.Context, c redisReader, id string) (domain.Message, bool, error) {
	h, err := c.HGetAll(ctx, messageKey(id)).Result()
	if err != nil {
		return domain.Message{}, false, err
	}
	if len(h) == 0 {
		return domain.Message{}, false, nil
	}
	ms, err := strconv.ParseInt(h["scheduled_time"], 10, 64)
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("message %s: bad scheduled_time: %w", id, err)
	}
	return domain.Message{
		ID:            id,
		Text:          h["text"],
		ScheduledTime: fromMillis(ms),
		Type:          domain.Type(h["type"]),
	}, true, nil
}

func writeMessage(ctx context.Context, pipe redis.Pipeliner, m domain.Message) {
	ms := toMillis(m.ScheduledTime)
	pipe.HSet(ctx, messageKey(m.ID),
		"text", m.Text,
		"scheduled_time", ms,
		"type", string(m.Type),
	)
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(ms), Member: m.ID})
}
