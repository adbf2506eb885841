package usecase

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/internal/domain"
)

// DirectoryUsecase serves the handle directory on the server side.
type DirectoryUsecase struct {
	repo    DirectoryRepository
	version string
	now     func() time.Time
}

func NewDirectoryUsecase(repo DirectoryRepository, config domain.Config) *DirectoryUsecase {
	return &DirectoryUsecase{repo: repo, version: config.Version, now: time.Now}
}

func (uc *DirectoryUsecase) Snapshot(ctx context.Context) (blurchat.DirectorySnapshot, error) {
	ctx, span := tracer.Start(ctx, "Directory.Snapshot")
	defer span.End()

	entries, err := uc.repo.List(ctx)
	if err != nil {
		span.RecordError(err)
		return blurchat.DirectorySnapshot{}, err
	}

	snapshot := blurchat.DirectorySnapshot{
		Version:     uc.version,
		GeneratedAt: uc.now(),
		Entries:     make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		snapshot.Entries[e.Handle] = e.Identity
	}
	return snapshot, nil
}

func (uc *DirectoryUsecase) Lookup(ctx context.Context, handle string) (blurchat.DirectoryEntry, error) {
	if !blurchat.IsHandle(handle) {
		return blurchat.DirectoryEntry{}, domain.ValidationError{Field: "handle", Reason: handle}
	}
	return uc.repo.Get(ctx, handle)
}

// Publish claims handle for identity. A handle owned by another identity
// is a conflict; an identity moving to a new handle releases its old one.
func (uc *DirectoryUsecase) Publish(ctx context.Context, handle, identity string) (blurchat.DirectoryEntry, error) {
	ctx, span := tracer.Start(ctx, "Directory.Publish", trace.WithAttributes(attribute.String("handle", handle)))
	defer span.End()

	if !blurchat.IsHandle(handle) {
		return blurchat.DirectoryEntry{}, domain.ValidationError{Field: "handle", Reason: handle}
	}
	if !blurchat.IsIdentity(identity) {
		return blurchat.DirectoryEntry{}, domain.ValidationError{Field: "identity", Reason: identity}
	}

	existing, err := uc.repo.Get(ctx, handle)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		span.RecordError(err)
		return blurchat.DirectoryEntry{}, err
	case existing.Identity != identity:
		return blurchat.DirectoryEntry{}, domain.ConflictError{Resource: "handle", Key: handle}
	}

	entry := blurchat.DirectoryEntry{Handle: handle, Identity: identity, UpdatedAt: uc.now()}
	if err := uc.repo.Upsert(ctx, entry); err != nil {
		span.RecordError(err)
		return blurchat.DirectoryEntry{}, err
	}
	return entry, nil
}
