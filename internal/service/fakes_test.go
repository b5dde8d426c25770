package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"chirp/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is a shared in-memory backing store for the repository fakes.
// Reads hand out clones so a service mutation only becomes visible after an
// explicit Update, same as with a real database.
type memStore struct {
	mu         sync.Mutex
	users      map[uint]*models.User
	posts      map[uint]*models.Post
	byExternal map[string]uint
	nextUser   uint
	nextPost   uint
	clock      time.Time
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[uint]*models.User),
		posts:      make(map[uint]*models.Post),
		byExternal: make(map[string]uint),
		clock:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns a strictly increasing timestamp so creation order and
// created_at order always agree.
func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.PostIDs = append(models.IDList{}, u.PostIDs...)
	c.Posts = nil
	return &c
}

func clonePost(p *models.Post) *models.Post {
	c := *p
	c.ChildIDs = append(models.IDList{}, p.ChildIDs...)
	c.Author = nil
	c.Children = nil
	if p.ParentID != nil {
		id := *p.ParentID
		c.ParentID = &id
	}
	return &c
}

// authorOf resolves the author with the projection subset used for nested
// records. Caller must hold the lock.
func (m *memStore) authorOf(p *models.Post) *models.User {
	u, ok := m.users[p.AuthorID]
	if !ok {
		return nil
	}
	return &models.User{
		ID:          u.ID,
		ExternalID:  u.ExternalID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}

type fakeUserRepo struct {
	store *memStore
}

func (f *fakeUserRepo) GetByID(_ context.Context, id uint) (*models.User, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	u, ok := f.store.users[id]
	if !ok {
		return nil, models.NewNotFoundError("User", id)
	}
	return cloneUser(u), nil
}

func (f *fakeUserRepo) GetByExternalID(_ context.Context, externalID string) (*models.User, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	id, ok := f.store.byExternal[externalID]
	if !ok {
		return nil, nil
	}
	return cloneUser(f.store.users[id]), nil
}

func (f *fakeUserRepo) GetByIDs(_ context.Context, ids []uint) ([]*models.User, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	users := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := f.store.users[id]; ok {
			users = append(users, cloneUser(u))
		}
	}
	return users, nil
}

func (f *fakeUserRepo) ListAll(_ context.Context) ([]*models.User, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	users := make([]*models.User, 0, len(f.store.users))
	for _, u := range f.store.users {
		users = append(users, cloneUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (f *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if _, exists := f.store.byExternal[user.ExternalID]; exists {
		return models.NewValidationError("Username or account already exists")
	}
	f.store.nextUser++
	user.ID = f.store.nextUser
	user.CreatedAt = f.store.tick()
	f.store.users[user.ID] = cloneUser(user)
	f.store.byExternal[user.ExternalID] = user.ID
	return nil
}

func (f *fakeUserRepo) Update(_ context.Context, user *models.User) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if _, ok := f.store.users[user.ID]; !ok {
		return models.NewNotFoundError("User", user.ID)
	}
	stored := cloneUser(user)
	stored.CreatedAt = f.store.users[user.ID].CreatedAt
	f.store.users[user.ID] = stored
	return nil
}

func (f *fakeUserRepo) Search(_ context.Context, excludeExternalID, query string, limit, offset int, ascending bool) ([]*models.User, error) {
	matches := f.searchMatches(excludeExternalID, query)
	sort.Slice(matches, func(i, j int) bool {
		if ascending {
			return matches[i].CreatedAt.Before(matches[j].CreatedAt)
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	if offset >= len(matches) {
		return []*models.User{}, nil
	}
	matches = matches[offset:]
	if limit < len(matches) {
		matches = matches[:limit]
	}
	return matches, nil
}

func (f *fakeUserRepo) CountSearch(_ context.Context, excludeExternalID, query string) (int64, error) {
	return int64(len(f.searchMatches(excludeExternalID, query))), nil
}

func (f *fakeUserRepo) searchMatches(excludeExternalID, query string) []*models.User {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(query))
	var matches []*models.User
	for _, u := range f.store.users {
		if u.ExternalID == excludeExternalID {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(u.Username), q) &&
			!strings.Contains(strings.ToLower(u.DisplayName), q) {
			continue
		}
		matches = append(matches, cloneUser(u))
	}
	return matches
}

func (f *fakeUserRepo) RemovePostRefs(_ context.Context, userIDs []uint, postIDs []uint) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	remove := make(map[uint]struct{}, len(postIDs))
	for _, id := range postIDs {
		remove[id] = struct{}{}
	}
	for _, id := range userIDs {
		if u, ok := f.store.users[id]; ok {
			u.PostIDs = u.PostIDs.Without(remove)
		}
	}
	return nil
}

type fakePostRepo struct {
	store *memStore
}

func (f *fakePostRepo) Create(_ context.Context, post *models.Post) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.nextPost++
	post.ID = f.store.nextPost
	post.CreatedAt = f.store.tick()
	f.store.posts[post.ID] = clonePost(post)
	return nil
}

func (f *fakePostRepo) GetByID(_ context.Context, id uint) (*models.Post, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	p, ok := f.store.posts[id]
	if !ok {
		return nil, models.NewNotFoundError("Post", id)
	}
	c := clonePost(p)
	c.Author = f.store.authorOf(p)
	return c, nil
}

func (f *fakePostRepo) ListTopLevel(_ context.Context, limit, offset int) ([]*models.Post, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var posts []*models.Post
	for _, p := range f.store.posts {
		if p.ParentID == nil {
			c := clonePost(p)
			c.Author = f.store.authorOf(p)
			posts = append(posts, c)
		}
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].CreatedAt.After(posts[j].CreatedAt) })
	if offset >= len(posts) {
		return []*models.Post{}, nil
	}
	posts = posts[offset:]
	if limit < len(posts) {
		posts = posts[:limit]
	}
	return posts, nil
}

func (f *fakePostRepo) CountTopLevel(_ context.Context) (int64, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var count int64
	for _, p := range f.store.posts {
		if p.ParentID == nil {
			count++
		}
	}
	return count, nil
}

func (f *fakePostRepo) ListByAuthor(_ context.Context, authorID uint) ([]*models.Post, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var posts []*models.Post
	for _, p := range f.store.posts {
		if p.AuthorID == authorID {
			posts = append(posts, clonePost(p))
		}
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].CreatedAt.Before(posts[j].CreatedAt) })
	return posts, nil
}

func (f *fakePostRepo) ListByIDs(_ context.Context, ids []uint) ([]*models.Post, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	posts := make([]*models.Post, 0, len(ids))
	for _, id := range ids {
		if p, ok := f.store.posts[id]; ok {
			c := clonePost(p)
			c.Author = f.store.authorOf(p)
			posts = append(posts, c)
		}
	}
	return posts, nil
}

func (f *fakePostRepo) ListByIDsExcludingAuthor(_ context.Context, ids []uint, authorID uint) ([]*models.Post, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	posts := make([]*models.Post, 0, len(ids))
	for _, id := range ids {
		p, ok := f.store.posts[id]
		if !ok || p.AuthorID == authorID {
			continue
		}
		c := clonePost(p)
		c.Author = f.store.authorOf(p)
		posts = append(posts, c)
	}
	return posts, nil
}

func (f *fakePostRepo) ListByParents(_ context.Context, parentIDs []uint) ([]*models.Post, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	parents := make(map[uint]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = struct{}{}
	}
	var posts []*models.Post
	for _, p := range f.store.posts {
		if p.ParentID == nil {
			continue
		}
		if _, ok := parents[*p.ParentID]; ok {
			posts = append(posts, clonePost(p))
		}
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].CreatedAt.Before(posts[j].CreatedAt) })
	return posts, nil
}

func (f *fakePostRepo) ListAll(_ context.Context) ([]*models.Post, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	posts := make([]*models.Post, 0, len(f.store.posts))
	for _, p := range f.store.posts {
		posts = append(posts, clonePost(p))
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].ID < posts[j].ID })
	return posts, nil
}

func (f *fakePostRepo) Update(_ context.Context, post *models.Post) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if _, ok := f.store.posts[post.ID]; !ok {
		return models.NewNotFoundError("Post", post.ID)
	}
	stored := clonePost(post)
	stored.CreatedAt = f.store.posts[post.ID].CreatedAt
	f.store.posts[post.ID] = stored
	return nil
}

func (f *fakePostRepo) DeleteByIDs(_ context.Context, ids []uint) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for _, id := range ids {
		delete(f.store.posts, id)
	}
	return nil
}

// fixture wires a fresh store, both fakes and both services for a test.
type fixture struct {
	store    *memStore
	userRepo *fakeUserRepo
	postRepo *fakePostRepo
	posts    *PostService
	users    *UserService
}

func newFixture() *fixture {
	store := newMemStore()
	userRepo := &fakeUserRepo{store: store}
	postRepo := &fakePostRepo{store: store}
	return &fixture{
		store:    store,
		userRepo: userRepo,
		postRepo: postRepo,
		posts:    NewPostService(postRepo, userRepo),
		users:    NewUserService(userRepo, postRepo),
	}
}

// seedUser creates an onboarded profile through the service.
func (f *fixture) seedUser(t *testing.T, externalID, username string) *models.User {
	t.Helper()
	user, err := f.users.UpsertProfile(context.Background(), UpsertProfileInput{
		ExternalID:  externalID,
		Username:    username,
		DisplayName: "User " + username,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) seedPost(t *testing.T, externalID, text string) *models.Post {
	t.Helper()
	post, err := f.posts.CreatePost(context.Background(), CreatePostInput{
		Text:             text,
		AuthorExternalID: externalID,
	})
	require.NoError(t, err)
	return post
}

func (f *fixture) seedReply(t *testing.T, parentID uint, externalID, text string) *models.Post {
	t.Helper()
	reply, err := f.posts.AddReply(context.Background(), AddReplyInput{
		ParentID:         parentID,
		Text:             text,
		AuthorExternalID: externalID,
	})
	require.NoError(t, err)
	return reply
}

// assertValidationError asserts that err is an AppError with code VALIDATION_ERROR.
func assertValidationError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
}

// assertUnauthorizedError asserts that err is an AppError with code UNAUTHORIZED.
func assertUnauthorizedError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	assert.Equal(t, "UNAUTHORIZED", appErr.Code)
}
