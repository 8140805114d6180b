package storage

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/memoryshelf/backend/internal/albums"
	"github.com/memoryshelf/backend/internal/media"
	"github.com/memoryshelf/backend/internal/memories"
)

const migrationRewriteDriveShareLinks = "2026-07-18_rewrite_drive_share_links"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRewriteDriveShareLinks, apply: rewriteDriveShareLinks},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// rewriteDriveShareLinks normalizes image links persisted before link
// normalization moved into the write path. Rows already holding direct
// links are untouched.
func rewriteDriveShareLinks(db *gorm.DB) error {
	var albumRows []albums.Album
	if err := db.Where("cover_url LIKE ?", "%/d/%").Find(&albumRows).Error; err != nil {
		return err
	}
	for _, album := range albumRows {
		direct := media.DirectImageURL(album.CoverURL)
		if direct == album.CoverURL {
			continue
		}
		err := db.Model(&albums.Album{}).
			Where("album_id = ?", album.AlbumID).
			Update("cover_url", direct).Error
		if err != nil {
			return err
		}
	}

	var memoryRows []memories.Memory
	if err := db.Where("image_url LIKE ?", "%/d/%").Find(&memoryRows).Error; err != nil {
		return err
	}
	for _, memory := range memoryRows {
		direct := media.DirectImageURL(memory.ImageURL)
		if direct == memory.ImageURL {
			continue
		}
		err := db.Model(&memories.Memory{}).
			Where("memory_id = ?", memory.MemoryID).
			Update("image_url", direct).Error
		if err != nil {
			return err
		}
	}
	return nil
}
