package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/totegamma/blurchat"
	"github.com/totegamma/blurchat/internal/domain"
	"github.com/totegamma/blurchat/internal/infra/database/models"
)

type DirectoryRepository struct {
	db *gorm.DB
}

func NewDirectoryRepository(db *gorm.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// Upsert stores the entry. An identity owns one handle, so any other row
// of the same identity is removed in the same transaction.
func (r *DirectoryRepository) Upsert(ctx context.Context, entry blurchat.DirectoryEntry) error {
	mdate := entry.UpdatedAt
	if mdate.IsZero() {
		mdate = time.Now()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.
			Where("identity = ? AND handle <> ?", entry.Identity, entry.Handle).
			Delete(&models.DirectoryEntry{}).Error
		if err != nil {
			return err
		}

		row := models.DirectoryEntry{
			Handle:   entry.Handle,
			Identity: entry.Identity,
			MDate:    mdate,
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "handle"}},
			DoUpdates: clause.AssignmentColumns([]string{"identity", "m_date"}),
		}).Create(&row).Error
	})
}

func (r *DirectoryRepository) Get(ctx context.Context, handle string) (blurchat.DirectoryEntry, error) {
	var row models.DirectoryEntry
	err := r.db.WithContext(ctx).Where("handle = ?", handle).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return blurchat.DirectoryEntry{}, domain.NotFoundError{Resource: "handle " + handle}
	}
	if err != nil {
		return blurchat.DirectoryEntry{}, err
	}
	return toEntry(row), nil
}

func (r *DirectoryRepository) List(ctx context.Context) ([]blurchat.DirectoryEntry, error) {
	var rows []models.DirectoryEntry
	if err := r.db.WithContext(ctx).Order("handle").Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]blurchat.DirectoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, toEntry(row))
	}
	return entries, nil
}

func toEntry(row models.DirectoryEntry) blurchat.DirectoryEntry {
	return blurchat.DirectoryEntry{
		Handle:    row.Handle,
		Identity:  row.Identity,
		UpdatedAt: row.MDate,
	}
}
