// Package seed provides database seeding utilities for development.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"strings"

	"chirp/internal/models"
	"chirp/internal/repository"
	"chirp/internal/service"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Options configuration for the seeder.
type Options struct {
	NumUsers   int
	NumPosts   int
	ReplyRatio float64 // fraction of posts that become replies to earlier posts
}

// Seeder creates fake users, posts and reply threads. All writes go through
// the services so the denormalized back-reference lists stay consistent.
type Seeder struct {
	db          *gorm.DB
	userService *service.UserService
	postService *service.PostService
}

// NewSeeder returns a Seeder backed by the given database.
func NewSeeder(db *gorm.DB) *Seeder {
	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	return &Seeder{
		db:          db,
		userService: service.NewUserService(userRepo, postRepo),
		postService: service.NewPostService(postRepo, userRepo),
	}
}

// ClearAll removes all seeded data.
func (s *Seeder) ClearAll() error {
	if err := s.db.Where("1 = 1").Delete(&models.Post{}).Error; err != nil {
		return fmt.Errorf("clearing posts: %w", err)
	}
	if err := s.db.Where("1 = 1").Delete(&models.User{}).Error; err != nil {
		return fmt.Errorf("clearing users: %w", err)
	}
	return nil
}

// Seed populates the database per the given options and returns the created
// users.
func (s *Seeder) Seed(ctx context.Context, opts Options) ([]*models.User, error) {
	if opts.NumUsers < 1 {
		opts.NumUsers = 10
	}
	if opts.NumPosts < 0 {
		opts.NumPosts = 0
	}

	users := make([]*models.User, 0, opts.NumUsers)
	for i := 0; i < opts.NumUsers; i++ {
		name := gofakeit.Name()
		username := strings.ToLower(gofakeit.Username())
		if len(username) > 24 {
			username = username[:24]
		}
		// Usernames are unique; suffix with the index to dodge collisions.
		username = fmt.Sprintf("%s%d", username, i)

		user, err := s.userService.UpsertProfile(ctx, service.UpsertProfileInput{
			ExternalID:  uuid.NewString(),
			Username:    username,
			DisplayName: name,
			Bio:         gofakeit.Sentence(8),
			AvatarURL:   gofakeit.ImageURL(200, 200),
		})
		if err != nil {
			return nil, fmt.Errorf("seeding user %d: %w", i, err)
		}
		users = append(users, user)
	}

	var topLevel []uint
	for i := 0; i < opts.NumPosts; i++ {
		author := users[rand.Intn(len(users))]
		text := gofakeit.Sentence(4 + rand.Intn(12))

		if len(topLevel) > 0 && rand.Float64() < opts.ReplyRatio {
			parent := topLevel[rand.Intn(len(topLevel))]
			if _, err := s.postService.AddReply(ctx, service.AddReplyInput{
				ParentID:         parent,
				Text:             text,
				AuthorExternalID: author.ExternalID,
			}); err != nil {
				return nil, fmt.Errorf("seeding reply %d: %w", i, err)
			}
			continue
		}

		post, err := s.postService.CreatePost(ctx, service.CreatePostInput{
			Text:             text,
			AuthorExternalID: author.ExternalID,
		})
		if err != nil {
			return nil, fmt.Errorf("seeding post %d: %w", i, err)
		}
		topLevel = append(topLevel, post.ID)
	}

	return users, nil
}
