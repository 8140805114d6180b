package storage

import "github.com/google/uuid"

// UUIDProvider issues random identifiers for new albums and memories.
type UUIDProvider struct{}

// NewID returns a fresh time-ordered UUID string.
func (UUIDProvider) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
