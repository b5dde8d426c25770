// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// User represents one registered account. Identity is delegated to an
// external provider; ExternalID is the stable identifier it hands us and is
// the join key for all ownership lookups.
type User struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ExternalID  string    `gorm:"uniqueIndex;not null" json:"external_id"`
	Username    string    `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName string    `gorm:"not null" json:"display_name"`
	Bio         string    `json:"bio,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	// PostIDs is the denormalized back-reference list of the user's
	// top-level posts, in creation order. Maintained by the mutation layer;
	// the authoritative relation is Post.AuthorID.
	PostIDs   IDList    `gorm:"serializer:json;type:jsonb" json:"post_ids"`
	Onboarded bool      `gorm:"not null;default:false" json:"onboarded"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Posts carries the populated post records for profile views.
	// Never persisted.
	Posts []*Post `gorm:"-" json:"posts,omitempty"`
}
