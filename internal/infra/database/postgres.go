package database

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/totegamma/blurchat/internal/infra/database/models"
)

// gormWriter sends gorm's log lines through zerolog.
type gormWriter struct {
	level zerolog.Level
}

func (w gormWriter) Printf(format string, args ...any) {
	log.WithLevel(w.level).Str("component", "gorm").Msg(fmt.Sprintf(format, args...))
}

func NewPostgres(dsn string) (*gorm.DB, error) {
	gormLogger := logger.New(
		gormWriter{level: zerolog.WarnLevel}, // io writer
		logger.Config{
			SlowThreshold:             300 * time.Millisecond, // Slow SQL threshold
			LogLevel:                  logger.Warn,            // Log level
			IgnoreRecordNotFoundError: true,                   // directory misses are answered with 404
			Colorful:                  false,                  // zerolog owns the formatting
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger,
	})
	return db, err
}

func MigratePostgres(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.DirectoryEntry{},
	)
}
