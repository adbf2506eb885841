package kv

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/totegamma/blurchat/internal/domain"
)

// Redis stores keys in a shared redis, without expiry.
type Redis struct {
	rdb       *redis.Client
	namespace string
}

func NewRedis(rdb *redis.Client, namespace string) *Redis {
	return &Redis{rdb: rdb, namespace: namespace}
}

func (s *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.Get(ctx, namespaced(s.namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.NotFoundError{Resource: "key " + key}
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "redis get %s", key)
	}
	return v, nil
}

func (s *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, namespaced(s.namespace, key), value, 0).Err(); err != nil {
		return pkgerrors.Wrapf(err, "redis set %s", key)
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, namespaced(s.namespace, key)).Err(); err != nil {
		return pkgerrors.Wrapf(err, "redis delete %s", key)
	}
	return nil
}
