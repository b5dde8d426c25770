// Package repository implements the data access layer for the application.
package repository

import (
	"context"
	"errors"
	"strings"

	"chirp/internal/cache"
	"chirp/internal/models"

	"gorm.io/gorm"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
	// GetByExternalID returns (nil, nil) when no such user exists; absence
	// of a profile is a normal state during onboarding, not an error.
	GetByExternalID(ctx context.Context, externalID string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []uint) ([]*models.User, error)
	ListAll(ctx context.Context) ([]*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Search(ctx context.Context, excludeExternalID, query string, limit, offset int, ascending bool) ([]*models.User, error)
	CountSearch(ctx context.Context, excludeExternalID, query string) (int64, error)
	RemovePostRefs(ctx context.Context, userIDs []uint, postIDs []uint) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository returns a new UserRepository implementation.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("User", id)
		}
		return nil, models.NewStoreError("Failed to fetch user", err)
	}
	return &user, nil
}

func (r *userRepository) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	var user models.User
	key := cache.UserKey(externalID)

	if found, err := cache.GetJSON(ctx, key, &user); err == nil && found {
		return &user, nil
	}

	if err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewStoreError("Failed to fetch user", err)
	}

	// Only hits are cached; a missing profile must stay observable the
	// moment it is created.
	_ = cache.SetJSON(ctx, key, &user, cache.UserTTL)
	return &user, nil
}

func (r *userRepository) GetByIDs(ctx context.Context, ids []uint) ([]*models.User, error) {
	if len(ids) == 0 {
		return []*models.User{}, nil
	}
	var users []*models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, models.NewStoreError("Failed to fetch users", err)
	}
	return users, nil
}

func (r *userRepository) ListAll(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&users).Error; err != nil {
		return nil, models.NewStoreError("Failed to fetch users", err)
	}
	return users, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewValidationError("Username or account already exists")
		}
		return models.NewStoreError("Failed to create user", err)
	}
	return nil
}

// isUniqueConstraintError checks if a DB error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	// PostgreSQL unique violation SQLSTATE 23505
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "23505")
}

func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewValidationError("Username already taken")
		}
		return models.NewStoreError("Failed to update user", err)
	}
	cache.InvalidateUser(ctx, user.ExternalID)
	return nil
}

func (r *userRepository) Search(ctx context.Context, excludeExternalID, query string, limit, offset int, ascending bool) ([]*models.User, error) {
	var users []*models.User
	order := "created_at DESC"
	if ascending {
		order = "created_at ASC"
	}
	err := r.searchScope(ctx, excludeExternalID, query).
		Order(order).
		Limit(limit).
		Offset(offset).
		Find(&users).Error
	if err != nil {
		return nil, models.NewStoreError("Failed to fetch users", err)
	}
	return users, nil
}

func (r *userRepository) CountSearch(ctx context.Context, excludeExternalID, query string) (int64, error) {
	var count int64
	err := r.searchScope(ctx, excludeExternalID, query).
		Model(&models.User{}).
		Count(&count).Error
	if err != nil {
		return 0, models.NewStoreError("Failed to count users", err)
	}
	return count, nil
}

// searchScope excludes the requesting user and applies the optional
// case-insensitive substring filter on username or display name.
// LOWER/LIKE instead of ILIKE so the same query runs on sqlite in tests.
func (r *userRepository) searchScope(ctx context.Context, excludeExternalID, query string) *gorm.DB {
	db := r.db.WithContext(ctx).Where("external_id <> ?", excludeExternalID)
	if q := strings.TrimSpace(query); q != "" {
		like := "%" + strings.ToLower(q) + "%"
		db = db.Where("LOWER(username) LIKE ? OR LOWER(display_name) LIKE ?", like, like)
	}
	return db
}

func (r *userRepository) RemovePostRefs(ctx context.Context, userIDs []uint, postIDs []uint) error {
	if len(userIDs) == 0 || len(postIDs) == 0 {
		return nil
	}
	remove := make(map[uint]struct{}, len(postIDs))
	for _, id := range postIDs {
		remove[id] = struct{}{}
	}

	var users []*models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", userIDs).Find(&users).Error; err != nil {
		return models.NewStoreError("Failed to fetch users", err)
	}
	for _, user := range users {
		filtered := user.PostIDs.Without(remove)
		if len(filtered) == len(user.PostIDs) {
			continue
		}
		user.PostIDs = filtered
		if err := r.db.WithContext(ctx).Model(user).Update("post_ids", filtered).Error; err != nil {
			return models.NewStoreError("Failed to update user post references", err)
		}
		cache.InvalidateUser(ctx, user.ExternalID)
	}
	return nil
}
