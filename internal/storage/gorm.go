package storage

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/memoryshelf/backend/internal/albums"
	"github.com/memoryshelf/backend/internal/memories"
	"github.com/memoryshelf/backend/internal/users"
)

// GormAlbumStore persists albums in a relational database. Successful
// writes publish a change signal keyed by the owning user.
type GormAlbumStore struct {
	db   *gorm.DB
	feed *Changefeed
}

// NewGormAlbumStore constructs an album store over the provided connection.
func NewGormAlbumStore(db *gorm.DB, feed *Changefeed) *GormAlbumStore {
	return &GormAlbumStore{db: db, feed: feed}
}

func (s *GormAlbumStore) Get(ctx context.Context, albumID string) (albums.Album, error) {
	var album albums.Album
	err := s.db.WithContext(ctx).
		Where("album_id = ?", albumID).
		First(&album).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return albums.Album{}, albums.ErrAlbumNotFound
	}
	if err != nil {
		return albums.Album{}, err
	}
	return album, nil
}

func (s *GormAlbumStore) Add(ctx context.Context, album albums.Album) error {
	if err := s.db.WithContext(ctx).Create(&album).Error; err != nil {
		return err
	}
	s.publish(album.OwnerID)
	return nil
}

// Delete removes the album and every memory it contains in one transaction.
func (s *GormAlbumStore) Delete(ctx context.Context, albumID string) error {
	var ownerID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var album albums.Album
		err := tx.Where("album_id = ?", albumID).First(&album).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return albums.ErrAlbumNotFound
		}
		if err != nil {
			return err
		}
		ownerID = album.OwnerID
		if err := tx.Where("album_id = ?", albumID).Delete(&memories.Memory{}).Error; err != nil {
			return err
		}
		return tx.Where("album_id = ?", albumID).Delete(&albums.Album{}).Error
	})
	if err != nil {
		return err
	}
	s.publish(ownerID)
	s.publish(albumID)
	return nil
}

func (s *GormAlbumStore) ListByOwner(ctx context.Context, ownerID string) ([]albums.Album, error) {
	var rows []albums.Album
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at_ms ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GormAlbumStore) publish(key string) {
	if s.feed != nil {
		s.feed.Publish(key)
	}
}

// GormMemoryStore persists memories in a relational database. Successful
// writes publish a change signal keyed by the album. Snapshots are ordered
// in Go so both storage backends share identical sort semantics.
type GormMemoryStore struct {
	db   *gorm.DB
	feed *Changefeed
}

// NewGormMemoryStore constructs a memory store over the provided connection.
func NewGormMemoryStore(db *gorm.DB, feed *Changefeed) *GormMemoryStore {
	return &GormMemoryStore{db: db, feed: feed}
}

func (s *GormMemoryStore) Get(ctx context.Context, albumID, memoryID string) (memories.Memory, error) {
	var memory memories.Memory
	err := s.db.WithContext(ctx).
		Where("album_id = ? AND memory_id = ?", albumID, memoryID).
		First(&memory).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return memories.Memory{}, memories.ErrMemoryNotFound
	}
	if err != nil {
		return memories.Memory{}, err
	}
	return memory, nil
}

func (s *GormMemoryStore) Add(ctx context.Context, memory memories.Memory) error {
	if err := s.db.WithContext(ctx).Create(&memory).Error; err != nil {
		return err
	}
	s.publish(memory.AlbumID)
	return nil
}

func (s *GormMemoryStore) Update(ctx context.Context, albumID, memoryID string, edits memories.FieldEdits) error {
	updates := fieldEditColumns(edits)
	if len(updates) == 0 {
		return nil
	}
	result := s.db.WithContext(ctx).
		Model(&memories.Memory{}).
		Where("album_id = ? AND memory_id = ?", albumID, memoryID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return memories.ErrMemoryNotFound
	}
	s.publish(albumID)
	return nil
}

func (s *GormMemoryStore) Delete(ctx context.Context, albumID, memoryID string) error {
	result := s.db.WithContext(ctx).
		Where("album_id = ? AND memory_id = ?", albumID, memoryID).
		Delete(&memories.Memory{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return memories.ErrMemoryNotFound
	}
	s.publish(albumID)
	return nil
}

func (s *GormMemoryStore) List(ctx context.Context, albumID string, sortKey memories.SortKey) ([]memories.Memory, error) {
	var rows []memories.Memory
	err := s.db.WithContext(ctx).
		Where("album_id = ?", albumID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	switch sortKey {
	case memories.SortByTakenAt:
		memories.SortSnapshotByTakenAt(rows)
	default:
		memories.SortSnapshot(rows)
	}
	return rows, nil
}

// BulkSetOrder commits every assignment inside one transaction. A missing
// row aborts the whole batch so a committed permutation always covers the
// rows it was computed from.
func (s *GormMemoryStore) BulkSetOrder(ctx context.Context, albumID string, assignments []memories.OrderAssignment) error {
	if len(assignments) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, assignment := range assignments {
			result := tx.Model(&memories.Memory{}).
				Where("album_id = ? AND memory_id = ?", albumID, assignment.MemoryID).
				Update("display_order", assignment.Order)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return memories.ErrMemoryNotFound
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(albumID)
	return nil
}

func (s *GormMemoryStore) publish(key string) {
	if s.feed != nil {
		s.feed.Publish(key)
	}
}

func fieldEditColumns(edits memories.FieldEdits) map[string]interface{} {
	updates := map[string]interface{}{}
	if edits.Title != nil {
		updates["title"] = *edits.Title
	}
	if edits.Note != nil {
		updates["note"] = *edits.Note
	}
	if edits.ImageURL != nil {
		updates["image_url"] = *edits.ImageURL
	}
	if edits.TakenAt != nil {
		updates["taken_at"] = *edits.TakenAt
	}
	return updates
}

// GormIdentityStore persists provider identity mappings.
type GormIdentityStore struct {
	db *gorm.DB
}

// NewGormIdentityStore constructs an identity store over the provided connection.
func NewGormIdentityStore(db *gorm.DB) *GormIdentityStore {
	return &GormIdentityStore{db: db}
}

func (s *GormIdentityStore) FindIdentity(provider string, subject string) (users.Identity, error) {
	var identity users.Identity
	err := s.db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return users.Identity{}, users.ErrIdentityNotFound
	}
	if err != nil {
		return users.Identity{}, err
	}
	return identity, nil
}

func (s *GormIdentityStore) SaveIdentity(identity users.Identity) error {
	return s.db.
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&identity).Error
}
