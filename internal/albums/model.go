package albums

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidAlbumID indicates that an album identifier is empty or exceeds storage bounds.
	ErrInvalidAlbumID = errors.New("albums: invalid album id")
	// ErrInvalidOwnerID indicates that an owner identifier is empty or exceeds storage bounds.
	ErrInvalidOwnerID = errors.New("albums: invalid owner id")
)

// AlbumID represents a validated album identifier.
type AlbumID string

// NewAlbumID validates raw input and returns an AlbumID.
func NewAlbumID(rawInput string) (AlbumID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidAlbumID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidAlbumID, maxIdentifierLength)
	}
	return AlbumID(trimmed), nil
}

// String returns the underlying string identifier.
func (id AlbumID) String() string {
	return string(id)
}

// OwnerID represents a validated owning-user identifier.
type OwnerID string

// NewOwnerID validates raw input and returns an OwnerID.
func NewOwnerID(rawInput string) (OwnerID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidOwnerID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidOwnerID, maxIdentifierLength)
	}
	return OwnerID(trimmed), nil
}

// String returns the underlying string identifier.
func (id OwnerID) String() string {
	return string(id)
}

// Album models a named collection of memories owned by one user. Each user
// observes only albums whose owner id matches their own identity.
type Album struct {
	AlbumID         string `gorm:"column:album_id;primaryKey;size:190;not null" bson:"_id" json:"id"`
	OwnerID         string `gorm:"column:owner_id;size:190;not null;index:idx_albums_owner_created,priority:1" bson:"owner_id" json:"ownerId"`
	Title           string `gorm:"column:title;size:320;not null" bson:"title" json:"title"`
	CoverURL        string `gorm:"column:cover_url;size:512" bson:"cover_url,omitempty" json:"coverUrl,omitempty"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null;index:idx_albums_owner_created,priority:2" bson:"created_at_ms" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Album) TableName() string {
	return "albums"
}
