package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	pkgerrors "github.com/pkg/errors"

	"github.com/totegamma/blurchat/internal/domain"
)

// Pebble is the default durable store, one database per data directory.
type Pebble struct {
	db        *pebble.DB
	namespace string
}

func OpenPebble(path, namespace string) (*Pebble, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create data directory")
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open pebble at %s", path)
	}
	return &Pebble{db: db, namespace: namespace}, nil
}

func (s *Pebble) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Pebble) Get(ctx context.Context, key string) ([]byte, error) {
	v, closer, err := s.db.Get(s.key(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, domain.NotFoundError{Resource: "key " + key}
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "pebble get %s", key)
	}
	if closer != nil {
		defer closer.Close()
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Pebble) Set(ctx context.Context, key string, value []byte) error {
	if err := s.db.Set(s.key(key), value, pebble.Sync); err != nil {
		return pkgerrors.Wrapf(err, "pebble set %s", key)
	}
	return nil
}

func (s *Pebble) Delete(ctx context.Context, key string) error {
	if err := s.db.Delete(s.key(key), pebble.Sync); err != nil {
		return pkgerrors.Wrapf(err, "pebble delete %s", key)
	}
	return nil
}

func (s *Pebble) key(key string) []byte {
	return []byte(namespaced(s.namespace, key))
}
