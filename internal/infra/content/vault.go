// Package content keeps message bodies sealed in memory.
package content

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/totegamma/blurchat/internal/domain"
	"github.com/totegamma/blurchat/internal/infra/sealing"
)

// Vault holds only ciphertext. Every Open decrypts afresh and hands the
// plaintext to the caller without keeping it.
type Vault struct {
	mu     sync.Mutex
	sealer *sealing.Sealer
	items  map[string][]byte
}

func NewVault() (*Vault, error) {
	sealer, err := sealing.NewEphemeral()
	if err != nil {
		return nil, err
	}
	return &Vault{sealer: sealer, items: make(map[string][]byte)}, nil
}

func (v *Vault) Seal(messageID, body string) error {
	sealed, err := v.sealer.Seal([]byte(body), []byte(messageID))
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.items[messageID] = sealed
	v.mu.Unlock()
	return nil
}

func (v *Vault) Open(messageID string) (string, error) {
	v.mu.Lock()
	sealed, ok := v.items[messageID]
	sealer := v.sealer
	v.mu.Unlock()
	if !ok {
		return "", domain.NotFoundError{Resource: "message " + messageID}
	}

	plain, err := sealer.Open(sealed, []byte(messageID))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (v *Vault) Forget(messageID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.items, messageID)
}

// Clear drops every body and rotates the key.
func (v *Vault) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items = make(map[string][]byte)
	sealer, err := sealing.NewEphemeral()
	if err != nil {
		log.Warn().Err(err).Msg("failed to rotate vault key")
		return
	}
	v.sealer = sealer
}
