package memories

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidMemoryID indicates that a memory identifier is empty or exceeds storage bounds.
	ErrInvalidMemoryID = errors.New("memories: invalid memory id")
)

// MemoryID represents a validated memory identifier.
type MemoryID string

// NewMemoryID validates raw input and returns a MemoryID.
func NewMemoryID(rawInput string) (MemoryID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidMemoryID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidMemoryID, maxIdentifierLength)
	}
	return MemoryID(trimmed), nil
}

// String returns the underlying string identifier.
func (id MemoryID) String() string {
	return string(id)
}

// Memory models one dated photo entry within an album. Order is the display
// position; nil means the entry is unordered and awaits backfill. The column
// is named display_order because "order" is reserved in SQL.
type Memory struct {
	MemoryID        string `gorm:"column:memory_id;primaryKey;size:190;not null" bson:"_id" json:"id"`
	AlbumID         string `gorm:"column:album_id;size:190;not null;index:idx_memories_album_order,priority:1" bson:"album_id" json:"albumId"`
	ImageURL        string `gorm:"column:image_url;size:512;not null" bson:"image_url" json:"imageUrl"`
	Title           string `gorm:"column:title;size:320" bson:"title,omitempty" json:"title,omitempty"`
	Note            string `gorm:"column:note;type:text" bson:"note,omitempty" json:"note,omitempty"`
	TakenAt         string `gorm:"column:taken_at;size:64" bson:"taken_at,omitempty" json:"takenAt,omitempty"`
	Order           *int64 `gorm:"column:display_order;index:idx_memories_album_order,priority:2" bson:"display_order,omitempty" json:"order,omitempty"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null" bson:"created_at_ms" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Memory) TableName() string {
	return "memories"
}

// Ordered reports whether the entry carries a display position.
func (m Memory) Ordered() bool {
	return m.Order != nil
}

// FieldEdits carries a partial update of a memory's editable fields. Nil
// pointers leave the stored value untouched.
type FieldEdits struct {
	Title    *string
	Note     *string
	ImageURL *string
	TakenAt  *string
}

// SortKey selects the ordering applied when reading an album's memory list.
type SortKey string

const (
	// SortByOrder is the primary ordering: display order ascending, unordered
	// entries last by creation time.
	SortByOrder SortKey = "order"
	// SortByTakenAt is the fallback ordering by semantic capture date.
	SortByTakenAt SortKey = "taken_at"
)
