package kv

import (
	"context"
	"errors"

	"github.com/bradfitz/gomemcache/memcache"
	pkgerrors "github.com/pkg/errors"

	"github.com/totegamma/blurchat/internal/domain"
)

// Memcache is a cache-grade store: entries may be evicted, which the
// session treats like a missing key.
type Memcache struct {
	mc        *memcache.Client
	namespace string
}

func NewMemcache(mc *memcache.Client, namespace string) *Memcache {
	return &Memcache{mc: mc, namespace: namespace}
}

func (s *Memcache) Get(ctx context.Context, key string) ([]byte, error) {
	item, err := s.mc.Get(namespaced(s.namespace, key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, domain.NotFoundError{Resource: "key " + key}
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "memcache get %s", key)
	}
	return item.Value, nil
}

func (s *Memcache) Set(ctx context.Context, key string, value []byte) error {
	err := s.mc.Set(&memcache.Item{Key: namespaced(s.namespace, key), Value: value})
	if err != nil {
		return pkgerrors.Wrapf(err, "memcache set %s", key)
	}
	return nil
}

func (s *Memcache) Delete(ctx context.Context, key string) error {
	err := s.mc.Delete(namespaced(s.namespace, key))
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return pkgerrors.Wrapf(err, "memcache delete %s", key)
	}
	return nil
}
