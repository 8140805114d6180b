package users

import "strings"

// ProviderGoogle is the only sign-in provider the service accepts today.
const ProviderGoogle = "google"

// Identity maps a provider-specific login to a canonical MemoryShelf user.
// The provider+subject pair is the natural key; UserID is what the rest of
// the system stores against albums and memories.
type Identity struct {
	Provider          string `gorm:"column:provider;primaryKey;size:32;not null" bson:"provider" json:"provider"`
	Subject           string `gorm:"column:subject;primaryKey;size:190;not null" bson:"subject" json:"subject"`
	UserID            string `gorm:"column:user_id;size:190;not null;index" bson:"user_id" json:"user_id"`
	Email             string `gorm:"column:email;size:320" bson:"email" json:"email"`
	DisplayName       string `gorm:"column:display_name;size:320" bson:"display_name" json:"display_name"`
	AvatarURL         string `gorm:"column:avatar_url;size:512" bson:"avatar_url" json:"avatar_url"`
	FirstSeenAtMillis int64  `gorm:"column:first_seen_at_ms;not null" bson:"first_seen_at_ms" json:"first_seen_at_ms"`
	LastSeenAtMillis  int64  `gorm:"column:last_seen_at_ms;not null" bson:"last_seen_at_ms" json:"last_seen_at_ms"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
