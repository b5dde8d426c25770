// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// IDList is an ordered list of record ids stored as a JSON column.
type IDList []uint

// Contains reports whether id is present in the list.
func (l IDList) Contains(id uint) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

// Without returns a copy of the list with every id in remove filtered out.
func (l IDList) Without(remove map[uint]struct{}) IDList {
	out := make(IDList, 0, len(l))
	for _, v := range l {
		if _, drop := remove[v]; !drop {
			out = append(out, v)
		}
	}
	return out
}

// Post represents one tweet or reply; the two are the same entity,
// distinguished only by the presence of ParentID. Posts form a tree:
// ParentID points up, ChildIDs points down, and the mutation layer keeps
// both sides in agreement.
type Post struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Text     string `gorm:"type:text;not null" json:"text"`
	AuthorID uint   `gorm:"not null;index" json:"author_id"`
	Author   *User  `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	ParentID *uint  `gorm:"index" json:"parent_id,omitempty"`
	// ChildIDs is the denormalized list of direct replies in submission
	// order. The authoritative relation is the ParentID column.
	ChildIDs  IDList    `gorm:"serializer:json;type:jsonb" json:"child_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Children carries populated reply records to the depth the query
	// resolved them. Never persisted.
	Children []*Post `gorm:"-" json:"children"`
}

// IsReply reports whether the post is a reply to another post.
func (p *Post) IsReply() bool {
	return p.ParentID != nil
}
