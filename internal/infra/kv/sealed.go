package kv

import (
	"context"

	pkgerrors "github.com/pkg/errors"

	"github.com/totegamma/blurchat/internal/infra/sealing"
	"github.com/totegamma/blurchat/internal/usecase"
)

// Sealed encrypts every value before it reaches the inner store. The key
// name is bound as associated data so values cannot be swapped between keys.
type Sealed struct {
	inner  usecase.KeyValueStore
	sealer *sealing.Sealer
}

func NewSealed(inner usecase.KeyValueStore, sealer *sealing.Sealer) *Sealed {
	return &Sealed{inner: inner, sealer: sealer}
}

func (s *Sealed) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	plain, err := s.sealer.Open(raw, []byte(key))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open %s", key)
	}
	return plain, nil
}

func (s *Sealed) Set(ctx context.Context, key string, value []byte) error {
	sealed, err := s.sealer.Seal(value, []byte(key))
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to seal %s", key)
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *Sealed) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}
