package service

import (
	"context"
	"strings"

	"chirp/internal/cache"
	"chirp/internal/models"
	"chirp/internal/repository"
)

const (
	maxUsernameLen = 30
	maxBioLen      = 500

	// profileEditPath is the only route whose render cache the profile
	// upsert invalidates itself; other routes are the caller's concern.
	profileEditPath = "/profile/edit"
)

// UserService implements profile and user-discovery operations.
type UserService struct {
	userRepo repository.UserRepository
	postRepo repository.PostRepository
}

// UserPage is one page of a user search.
type UserPage struct {
	Users   []*models.User `json:"users"`
	HasNext bool           `json:"has_next"`
}

type UpsertProfileInput struct {
	ExternalID  string
	Username    string
	DisplayName string
	Bio         string
	AvatarURL   string
	Path        string
}

type SearchUsersInput struct {
	RequestingExternalID string
	Query                string
	PageNumber           int
	PageSize             int
	Ascending            bool
}

func NewUserService(userRepo repository.UserRepository, postRepo repository.PostRepository) *UserService {
	return &UserService{
		userRepo: userRepo,
		postRepo: postRepo,
	}
}

// FetchUserByExternalID returns the user for the identity provider's id,
// or nil when no profile exists yet. Absence is not an error: it is how
// the onboarding flow decides to show the profile form.
func (s *UserService) FetchUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	user, err := s.userRepo.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, wrapStoreError("Failed to fetch user", err)
	}
	return user, nil
}

// FetchUserPosts returns the user with their post history resolved: each
// post carries its replies with reply authors resolved, for profile pages
// that render reply context inline.
func (s *UserService) FetchUserPosts(ctx context.Context, externalID string) (*models.User, error) {
	user, err := s.userRepo.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, wrapStoreError("Failed to fetch user posts", err)
	}
	if user == nil {
		return nil, models.NewNotFoundError("User", externalID)
	}

	posts, err := s.postRepo.ListByIDs(ctx, user.PostIDs)
	if err != nil {
		return nil, wrapStoreError("Failed to fetch user posts", err)
	}
	if err := populateChildren(ctx, s.postRepo, posts, 1); err != nil {
		return nil, wrapStoreError("Failed to fetch user posts", err)
	}

	user.Posts = posts
	return user, nil
}

// SearchUsers returns a page of users other than the requester, filtered
// by a case-insensitive substring match on username or display name when
// the query is non-empty, ordered by account creation time (newest first
// by default).
func (s *UserService) SearchUsers(ctx context.Context, in SearchUsersInput) (*UserPage, error) {
	pageNumber := in.PageNumber
	if pageNumber < 1 {
		pageNumber = 1
	}
	pageSize := in.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	offset := (pageNumber - 1) * pageSize

	users, err := s.userRepo.Search(ctx, in.RequestingExternalID, in.Query, pageSize, offset, in.Ascending)
	if err != nil {
		return nil, wrapStoreError("Failed to fetch users", err)
	}
	total, err := s.userRepo.CountSearch(ctx, in.RequestingExternalID, in.Query)
	if err != nil {
		return nil, wrapStoreError("Failed to fetch users", err)
	}

	return &UserPage{
		Users:   users,
		HasNext: total > int64(offset+len(users)),
	}, nil
}

// UpsertProfile creates or updates the profile keyed by the external id.
// Idempotent: repeated calls with the same arguments leave one record.
// Completing the profile is what marks the account onboarded.
func (s *UserService) UpsertProfile(ctx context.Context, in UpsertProfileInput) (*models.User, error) {
	if strings.TrimSpace(in.ExternalID) == "" {
		return nil, models.NewValidationError("Account id is required")
	}
	username := strings.ToLower(strings.TrimSpace(in.Username))
	if username == "" {
		return nil, models.NewValidationError("Username is required")
	}
	if len(username) > maxUsernameLen {
		return nil, models.NewValidationError("Username too long (max 30 characters)")
	}
	if strings.TrimSpace(in.DisplayName) == "" {
		return nil, models.NewValidationError("Display name is required")
	}
	if len(in.Bio) > maxBioLen {
		return nil, models.NewValidationError("Bio too long (max 500 characters)")
	}

	user, err := s.userRepo.GetByExternalID(ctx, in.ExternalID)
	if err != nil {
		return nil, wrapStoreError("Failed to create/update user", err)
	}

	if user == nil {
		user = &models.User{
			ExternalID:  in.ExternalID,
			Username:    username,
			DisplayName: in.DisplayName,
			Bio:         in.Bio,
			AvatarURL:   in.AvatarURL,
			PostIDs:     models.IDList{},
			Onboarded:   true,
		}
		if err := s.userRepo.Create(ctx, user); err != nil {
			return nil, wrapStoreError("Failed to create/update user", err)
		}
	} else {
		user.Username = username
		user.DisplayName = in.DisplayName
		user.Bio = in.Bio
		user.AvatarURL = in.AvatarURL
		user.Onboarded = true
		if err := s.userRepo.Update(ctx, user); err != nil {
			return nil, wrapStoreError("Failed to create/update user", err)
		}
	}

	if in.Path == profileEditPath {
		cache.InvalidatePage(ctx, in.Path)
	}

	return user, nil
}
