// Package repository implements the data access layer for the application.
package repository

import (
	"context"
	"errors"

	"chirp/internal/cache"
	"chirp/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// authorProjection is the field subset resolved for authors of nested
// replies: identifier, display name, avatar. Full profiles are only loaded
// where the caller renders them.
var authorProjection = []string{"id", "external_id", "display_name", "avatar_url"}

// PostRepository defines persistence operations for posts and replies.
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	ListTopLevel(ctx context.Context, limit, offset int) ([]*models.Post, error)
	CountTopLevel(ctx context.Context) (int64, error)
	ListByAuthor(ctx context.Context, authorID uint) ([]*models.Post, error)
	// ListByIDs returns posts in the order of the given ids, with authors
	// resolved to the projection subset. Unknown ids are skipped.
	ListByIDs(ctx context.Context, ids []uint) ([]*models.Post, error)
	ListByIDsExcludingAuthor(ctx context.Context, ids []uint, authorID uint) ([]*models.Post, error)
	ListByParents(ctx context.Context, parentIDs []uint) ([]*models.Post, error)
	ListAll(ctx context.Context) ([]*models.Post, error)
	Update(ctx context.Context, post *models.Post) error
	DeleteByIDs(ctx context.Context, ids []uint) error
}

type postRepository struct {
	db *gorm.DB
}

// NewPostRepository returns a new PostRepository implementation.
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return models.NewStoreError("Failed to create post", err)
	}
	return nil
}

// GetByID serves single posts cache-aside; every mutation of a post drops
// its cache entry, so a hit is never staler than the last write.
func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	err := cache.Aside(ctx, cache.PostKey(id), &post, cache.PostTTL, func() error {
		return r.db.WithContext(ctx).
			Preload("Author", func(db *gorm.DB) *gorm.DB {
				return db.Select(authorProjection)
			}).
			First(&post, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Post", id)
		}
		return nil, models.NewStoreError("Failed to fetch post", err)
	}
	return &post, nil
}

func (r *postRepository) ListTopLevel(ctx context.Context, limit, offset int) ([]*models.Post, error) {
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Preload("Author").
		Where("parent_id IS NULL").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&posts).Error
	if err != nil {
		return nil, models.NewStoreError("Failed to fetch posts", err)
	}
	return posts, nil
}

func (r *postRepository) CountTopLevel(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("parent_id IS NULL").
		Count(&count).Error
	if err != nil {
		return 0, models.NewStoreError("Failed to count posts", err)
	}
	return count, nil
}

func (r *postRepository) ListByAuthor(ctx context.Context, authorID uint) ([]*models.Post, error) {
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Where("author_id = ?", authorID).
		Order("created_at ASC").
		Find(&posts).Error
	if err != nil {
		return nil, models.NewStoreError("Failed to fetch posts", err)
	}
	return posts, nil
}

func (r *postRepository) ListByIDs(ctx context.Context, ids []uint) ([]*models.Post, error) {
	if len(ids) == 0 {
		return []*models.Post{}, nil
	}
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Preload("Author", func(db *gorm.DB) *gorm.DB {
			return db.Select(authorProjection)
		}).
		Where("id IN ?", ids).
		Find(&posts).Error
	if err != nil {
		return nil, models.NewStoreError("Failed to fetch posts", err)
	}
	return orderByIDs(posts, ids), nil
}

func (r *postRepository) ListByIDsExcludingAuthor(ctx context.Context, ids []uint, authorID uint) ([]*models.Post, error) {
	if len(ids) == 0 {
		return []*models.Post{}, nil
	}
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Preload("Author", func(db *gorm.DB) *gorm.DB {
			return db.Select(authorProjection)
		}).
		Where("id IN ?", ids).
		Where("author_id <> ?", authorID).
		Find(&posts).Error
	if err != nil {
		return nil, models.NewStoreError("Failed to fetch posts", err)
	}
	return orderByIDs(posts, ids), nil
}

func (r *postRepository) ListByParents(ctx context.Context, parentIDs []uint) ([]*models.Post, error) {
	if len(parentIDs) == 0 {
		return []*models.Post{}, nil
	}
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Where("parent_id IN ?", parentIDs).
		Order("created_at ASC").
		Find(&posts).Error
	if err != nil {
		return nil, models.NewStoreError("Failed to fetch replies", err)
	}
	return posts, nil
}

func (r *postRepository) ListAll(ctx context.Context) ([]*models.Post, error) {
	var posts []*models.Post
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&posts).Error; err != nil {
		return nil, models.NewStoreError("Failed to fetch posts", err)
	}
	return posts, nil
}

func (r *postRepository) Update(ctx context.Context, post *models.Post) error {
	// Omit associations: a populated Author carries only projected fields
	// and must never be written back.
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Save(post).Error; err != nil {
		return models.NewStoreError("Failed to update post", err)
	}
	cache.InvalidatePost(ctx, post.ID)
	return nil
}

// DeleteByIDs removes the given posts in one bulk operation. Hard delete:
// cascade semantics require the rows to be gone, not tombstoned.
func (r *postRepository) DeleteByIDs(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Post{}).Error; err != nil {
		return models.NewStoreError("Failed to delete posts", err)
	}
	for _, id := range ids {
		cache.InvalidatePost(ctx, id)
	}
	return nil
}

// orderByIDs reorders rows to match the id list they were requested with,
// so denormalized child lists keep their submission order.
func orderByIDs(posts []*models.Post, ids []uint) []*models.Post {
	byID := make(map[uint]*models.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}
	ordered := make([]*models.Post, 0, len(posts))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered
}
