package gateway

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/client"
	"github.com/totegamma/blurchat/internal/domain"
	"github.com/totegamma/blurchat/jwt"
)

// DirectoryGateway adapts the directory client to the usecase ports.
type DirectoryGateway struct {
	client     *client.Client
	privateKey string
}

func NewDirectoryGateway(cl *client.Client, privateKey string) *DirectoryGateway {
	return &DirectoryGateway{client: cl, privateKey: privateKey}
}

func (g *DirectoryGateway) Snapshot(ctx context.Context) (blurchat.DirectorySnapshot, error) {
	snapshot, err := g.client.GetSnapshot(ctx)
	if err != nil {
		return blurchat.DirectorySnapshot{}, pkgerrors.Wrap(err, "failed to fetch directory snapshot")
	}
	return snapshot, nil
}

func (g *DirectoryGateway) Lookup(ctx context.Context, handle string) (blurchat.DirectoryEntry, error) {
	entry, err := g.client.GetEntry(ctx, handle)
	if errors.Is(err, client.ErrNotFound) {
		return blurchat.DirectoryEntry{}, domain.NotFoundError{Resource: "handle " + handle}
	}
	if err != nil {
		return blurchat.DirectoryEntry{}, pkgerrors.Wrapf(err, "failed to look up handle %s", handle)
	}
	return entry, nil
}

// Publish announces handle for our own identity with a short-lived token.
func (g *DirectoryGateway) Publish(ctx context.Context, handle string) error {
	token, err := g.token(handle)
	if err != nil {
		return err
	}
	if _, err := g.client.PutEntry(ctx, handle, token); err != nil {
		return pkgerrors.Wrapf(err, "failed to publish handle %s", handle)
	}
	return nil
}

func (g *DirectoryGateway) token(handle string) (string, error) {
	identity, err := blurchat.PrivKeyToAddr(g.privateKey, blurchat.IdentityPrefix)
	if err != nil {
		return "", err
	}
	return jwt.Create(jwt.NewPublishClaims(identity, g.client.Host(), handle, time.Now(), 5*time.Minute), g.privateKey)
}
