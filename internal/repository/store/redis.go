package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cutekitek/rankode-judge/internal/repository/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "submission:"
	// Optimistic transactions are retried this many times when another
	// writer touched the record between WATCH and EXEC.
	maxTxAttempts = 16
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	return NewRedisStoreFromClient(client), nil
}

func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func key(id string) string {
	return keyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, sub *models.Submission) error {
	cp := clone(sub)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	cp.UpdatedAt = cp.CreatedAt
	data, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, "failed to encode submission")
	}
	ok, err := s.client.SetNX(ctx, key(sub.Id), data, 0).Result()
	if err != nil {
		return errors.Wrap(err, "failed to create submission")
	}
	if !ok {
		return errors.Wrap(ErrExists, sub.Id)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Submission, error) {
	return get(ctx, s.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func get(ctx context.Context, c getter, id string) (*models.Submission, error) {
	data, err := c.Get(ctx, key(id)).Bytes()
	if err == redis.Nil {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read submission")
	}
	sub := &models.Submission{}
	if err := json.Unmarshal(data, sub); err != nil {
		return nil, errors.Wrapf(err, "corrupted submission %s", id)
	}
	return sub, nil
}

func (s *RedisStore) Transition(ctx context.Context, id string, status models.Status, m *models.Metrics) (bool, error) {
	return s.update(ctx, id, func(sub *models.Submission) (bool, error) {
		return applyTransition(sub, status, m, s.now())
	})
}

func (s *RedisStore) Reset(ctx context.Context, id string) (bool, error) {
	return s.update(ctx, id, func(sub *models.Submission) (bool, error) {
		return applyReset(sub, s.now())
	})
}

// update runs mutate inside WATCH/MULTI on the record key. The record is
// written back only when mutate reports a change.
func (s *RedisStore) update(ctx context.Context, id string, mutate func(*models.Submission) (bool, error)) (bool, error) {
	var applied bool
	txf := func(tx *redis.Tx) error {
		applied = false
		sub, err := get(ctx, tx, id)
		if err != nil {
			return err
		}
		changed, err := mutate(sub)
		if err != nil || !changed {
			return err
		}
		data, err := json.Marshal(sub)
		if err != nil {
			return errors.Wrap(err, "failed to encode submission")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key(id), data, 0)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}

	for range maxTxAttempts {
		err := s.client.Watch(ctx, txf, key(id))
		if err == redis.TxFailedErr {
			continue
		}
		return applied, err
	}
	return false, errors.Errorf("submission %s: too much contention", id)
}
