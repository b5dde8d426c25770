package service

import (
	"context"
	"strings"

	"chirp/internal/cache"
	"chirp/internal/models"
	"chirp/internal/observability"
	"chirp/internal/repository"
)

const (
	defaultPageSize = 20
	minPostTextLen  = 2
	maxPostTextLen  = 1000
)

// PostService implements the query and mutation operations over the
// post/reply tree.
type PostService struct {
	postRepo repository.PostRepository
	userRepo repository.UserRepository
}

// FeedPage is one page of the global feed.
type FeedPage struct {
	Posts   []*models.Post `json:"posts"`
	HasNext bool           `json:"has_next"`
}

type CreatePostInput struct {
	Text             string
	AuthorExternalID string
	Path             string
}

type AddReplyInput struct {
	ParentID         uint
	Text             string
	AuthorExternalID string
	Path             string
}

type DeletePostInput struct {
	PostID          uint
	ActorExternalID string
	Path            string
}

func NewPostService(postRepo repository.PostRepository, userRepo repository.UserRepository) *PostService {
	return &PostService{
		postRepo: postRepo,
		userRepo: userRepo,
	}
}

// FetchFeed returns one page of top-level posts, newest first, each with
// its author and one level of replies (and their authors) resolved.
func (s *PostService) FetchFeed(ctx context.Context, pageNumber, pageSize int) (*FeedPage, error) {
	if pageNumber < 1 {
		pageNumber = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	offset := (pageNumber - 1) * pageSize

	posts, err := s.postRepo.ListTopLevel(ctx, pageSize, offset)
	if err != nil {
		return nil, wrapStoreError("Failed to fetch feed", err)
	}
	if err := populateChildren(ctx, s.postRepo, posts, 1); err != nil {
		return nil, wrapStoreError("Failed to fetch feed", err)
	}

	total, err := s.postRepo.CountTopLevel(ctx)
	if err != nil {
		return nil, wrapStoreError("Failed to fetch feed", err)
	}

	return &FeedPage{
		Posts:   posts,
		HasNext: total > int64(offset+len(posts)),
	}, nil
}

// FetchPostByID returns a single post with its author resolved and its
// reply tree resolved to depth 2. Deeper threads are reached by navigating
// into a reply, not by one unbounded query.
func (s *PostService) FetchPostByID(ctx context.Context, id uint) (*models.Post, error) {
	ctx, span := observability.Tracer.Start(ctx, "post.fetch_thread")
	defer span.End()

	post, err := s.postRepo.GetByID(ctx, id)
	if err != nil {
		return nil, wrapStoreError("Failed to fetch post", err)
	}
	if err := populateChildren(ctx, s.postRepo, []*models.Post{post}, 2); err != nil {
		return nil, wrapStoreError("Failed to fetch post", err)
	}
	return post, nil
}

// FetchActivity returns the replies other users left on the given user's
// posts: own posts -> union of their child id lists -> those posts,
// excluding the user's own replies, authors resolved.
func (s *PostService) FetchActivity(ctx context.Context, externalID string) ([]*models.Post, error) {
	user, err := s.userRepo.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, wrapStoreError("Failed to fetch activity", err)
	}
	if user == nil {
		return nil, models.NewNotFoundError("User", externalID)
	}

	own, err := s.postRepo.ListByAuthor(ctx, user.ID)
	if err != nil {
		return nil, wrapStoreError("Failed to fetch activity", err)
	}

	var replyIDs []uint
	for _, p := range own {
		replyIDs = append(replyIDs, p.ChildIDs...)
	}
	if len(replyIDs) == 0 {
		return []*models.Post{}, nil
	}

	replies, err := s.postRepo.ListByIDsExcludingAuthor(ctx, replyIDs, user.ID)
	if err != nil {
		return nil, wrapStoreError("Failed to fetch activity", err)
	}
	return replies, nil
}

// CreatePost creates a new top-level post, records it on the author's
// back-reference list and invalidates the rendered page at path.
func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (*models.Post, error) {
	if err := validatePostText(in.Text); err != nil {
		return nil, err
	}

	author, err := s.userRepo.GetByExternalID(ctx, in.AuthorExternalID)
	if err != nil {
		return nil, wrapStoreError("Failed to create post", err)
	}
	if author == nil {
		return nil, models.NewStoreError("Failed to create post",
			models.NewNotFoundError("User", in.AuthorExternalID))
	}

	post := &models.Post{
		Text:     strings.TrimSpace(in.Text),
		AuthorID: author.ID,
		ChildIDs: models.IDList{},
	}
	if err := s.postRepo.Create(ctx, post); err != nil {
		return nil, wrapStoreError("Failed to create post", err)
	}

	// Second, independent write: the author's back-reference list. Not
	// atomic with the insert above; a crash in between is repaired by
	// ReconcileRefs.
	author.PostIDs = append(author.PostIDs, post.ID)
	if err := s.userRepo.Update(ctx, author); err != nil {
		return nil, wrapStoreError("Failed to create post", err)
	}

	cache.InvalidatePage(ctx, in.Path)

	post.Author = author
	post.Children = []*models.Post{}
	return post, nil
}

// AddReply creates a reply under parentID and appends it to the parent's
// child list. The two writes are separate single-row operations.
func (s *PostService) AddReply(ctx context.Context, in AddReplyInput) (*models.Post, error) {
	if err := validatePostText(in.Text); err != nil {
		return nil, err
	}

	author, err := s.userRepo.GetByExternalID(ctx, in.AuthorExternalID)
	if err != nil {
		return nil, wrapStoreError("Failed to add reply", err)
	}
	if author == nil {
		return nil, models.NewStoreError("Failed to add reply",
			models.NewNotFoundError("User", in.AuthorExternalID))
	}

	parent, err := s.postRepo.GetByID(ctx, in.ParentID)
	if err != nil {
		return nil, wrapStoreError("Failed to add reply", err)
	}

	reply := &models.Post{
		Text:     strings.TrimSpace(in.Text),
		AuthorID: author.ID,
		ParentID: &parent.ID,
		ChildIDs: models.IDList{},
	}
	if err := s.postRepo.Create(ctx, reply); err != nil {
		return nil, wrapStoreError("Failed to add reply", err)
	}

	parent.ChildIDs = append(parent.ChildIDs, reply.ID)
	if err := s.postRepo.Update(ctx, parent); err != nil {
		return nil, wrapStoreError("Failed to add reply", err)
	}

	cache.InvalidatePage(ctx, in.Path)

	reply.Author = author
	reply.Children = []*models.Post{}
	return reply, nil
}

// DeletePost removes a post and its entire reply subtree, then scrubs the
// removed ids from every affected author's back-reference list.
func (s *PostService) DeletePost(ctx context.Context, in DeletePostInput) error {
	ctx, span := observability.Tracer.Start(ctx, "post.delete_cascade")
	defer span.End()

	target, err := s.postRepo.GetByID(ctx, in.PostID)
	if err != nil {
		return wrapStoreError("Failed to delete post", err)
	}
	if in.ActorExternalID != "" && target.Author != nil && target.Author.ExternalID != in.ActorExternalID {
		return models.NewUnauthorizedError("You can only delete your own posts")
	}

	// Iterative breadth-first frontier expansion over parent_id: one
	// batched lookup per tree level, no call-stack recursion. The tree
	// invariant (replies only ever point at an existing ancestor)
	// guarantees termination.
	ids := []uint{target.ID}
	authorSet := map[uint]struct{}{target.AuthorID: {}}
	frontier := []uint{target.ID}
	for len(frontier) > 0 {
		children, err := s.postRepo.ListByParents(ctx, frontier)
		if err != nil {
			return wrapStoreError("Failed to delete post", err)
		}
		next := make([]uint, 0, len(children))
		for _, c := range children {
			ids = append(ids, c.ID)
			authorSet[c.AuthorID] = struct{}{}
			next = append(next, c.ID)
		}
		frontier = next
	}

	if err := s.postRepo.DeleteByIDs(ctx, ids); err != nil {
		return wrapStoreError("Failed to delete post", err)
	}

	authorIDs := make([]uint, 0, len(authorSet))
	for id := range authorSet {
		authorIDs = append(authorIDs, id)
	}
	if err := s.userRepo.RemovePostRefs(ctx, authorIDs, ids); err != nil {
		return wrapStoreError("Failed to delete post", err)
	}

	// Detach the deleted subtree's root from its parent's child list so
	// later populates never chase a dead id.
	if target.ParentID != nil {
		parent, err := s.postRepo.GetByID(ctx, *target.ParentID)
		switch {
		case err == nil:
			parent.ChildIDs = parent.ChildIDs.Without(map[uint]struct{}{target.ID: {}})
			if err := s.postRepo.Update(ctx, parent); err != nil {
				return wrapStoreError("Failed to delete post", err)
			}
		case !models.IsNotFound(err):
			return wrapStoreError("Failed to delete post", err)
		}
	}

	cache.InvalidatePage(ctx, in.Path)
	return nil
}

// ReconcileRefs rebuilds the denormalized back-reference lists
// (User.PostIDs, Post.ChildIDs) from the authoritative author_id and
// parent_id columns. Returns whether any drift was repaired. Multi-step
// mutations are not transactional, so a crash between their writes can
// leave these lists behind; this is the repair path.
func (s *PostService) ReconcileRefs(ctx context.Context) (bool, error) {
	posts, err := s.postRepo.ListAll(ctx)
	if err != nil {
		return false, wrapStoreError("Failed to reconcile references", err)
	}

	childrenOf := make(map[uint]models.IDList)
	topLevelOf := make(map[uint]models.IDList)
	for _, p := range posts {
		if p.ParentID != nil {
			childrenOf[*p.ParentID] = append(childrenOf[*p.ParentID], p.ID)
		} else {
			topLevelOf[p.AuthorID] = append(topLevelOf[p.AuthorID], p.ID)
		}
	}

	drift := false
	for _, p := range posts {
		want := childrenOf[p.ID]
		if want == nil {
			want = models.IDList{}
		}
		if equalIDs(p.ChildIDs, want) {
			continue
		}
		p.ChildIDs = want
		if err := s.postRepo.Update(ctx, p); err != nil {
			return drift, wrapStoreError("Failed to reconcile references", err)
		}
		drift = true
	}

	users, err := s.userRepo.ListAll(ctx)
	if err != nil {
		return drift, wrapStoreError("Failed to reconcile references", err)
	}
	for _, u := range users {
		want := topLevelOf[u.ID]
		if want == nil {
			want = models.IDList{}
		}
		if equalIDs(u.PostIDs, want) {
			continue
		}
		u.PostIDs = want
		if err := s.userRepo.Update(ctx, u); err != nil {
			return drift, wrapStoreError("Failed to reconcile references", err)
		}
		drift = true
	}

	return drift, nil
}

func validatePostText(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.NewValidationError("Text is required")
	}
	if len(trimmed) < minPostTextLen {
		return models.NewValidationError("Text too short (min 2 characters)")
	}
	if len(trimmed) > maxPostTextLen {
		return models.NewValidationError("Text too long (max 1000 characters)")
	}
	return nil
}
