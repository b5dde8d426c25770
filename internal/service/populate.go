package service

import (
	"context"

	"chirp/internal/models"
	"chirp/internal/repository"
)

// populateChildren resolves the denormalized child id lists of the given
// posts into full records, to the given depth. Each level is one batched
// lookup covering every post at that level; reply authors come back with
// the projection subset. Posts at the deepest resolved level get an empty
// Children slice so callers can distinguish "no replies" from "not
// resolved".
func populateChildren(ctx context.Context, repo repository.PostRepository, posts []*models.Post, depth int) error {
	if len(posts) == 0 {
		return nil
	}
	for _, p := range posts {
		p.Children = []*models.Post{}
	}
	if depth <= 0 {
		return nil
	}

	ids := make([]uint, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ChildIDs...)
	}
	if len(ids) == 0 {
		return nil
	}

	children, err := repo.ListByIDs(ctx, ids)
	if err != nil {
		return err
	}

	byID := make(map[uint]*models.Post, len(children))
	for _, c := range children {
		byID[c.ID] = c
	}
	for _, p := range posts {
		for _, id := range p.ChildIDs {
			// A child id that no longer resolves is tolerated drift
			// between the denormalized list and the store; skip it.
			if c, ok := byID[id]; ok {
				p.Children = append(p.Children, c)
			}
		}
	}

	return populateChildren(ctx, repo, children, depth-1)
}

// wrapStoreError re-raises storage failures as one descriptive failure per
// operation family, keeping the original error attached. Domain errors
// (not found, validation, unauthorized) pass through untouched.
func wrapStoreError(message string, err error) error {
	code := models.ErrorCode(err)
	if code != models.CodeStore {
		return err
	}
	return models.NewStoreError(message, err)
}

func equalIDs(a, b models.IDList) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
