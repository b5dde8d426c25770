package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chirp/internal/middleware"
)

const (
	userKeyPrefix = "user:%s"
	postKeyPrefix = "post:%d"
	pageKeyPrefix = "page:%s"
)

const (
	// UserTTL bounds staleness of cached profiles between edits.
	UserTTL = 5 * time.Minute
	// PostTTL covers cached thread fetches; mutations invalidate eagerly.
	PostTTL = 30 * time.Minute
	// PageTTL is deliberately short: rendered pages are also invalidated
	// explicitly on every mutation, the TTL is only a backstop.
	PageTTL = 1 * time.Minute
)

// UserKey returns the cache key for a user, keyed by external id.
func UserKey(externalID string) string {
	return fmt.Sprintf(userKeyPrefix, externalID)
}

// PostKey returns the cache key for a post thread.
func PostKey(postID uint) string {
	return fmt.Sprintf(postKeyPrefix, postID)
}

// PageKey returns the render-cache key for a logical route path.
func PageKey(path string) string {
	return fmt.Sprintf(pageKeyPrefix, path)
}

// Invalidate removes a single cache key. Fire-and-forget: a failed delete
// never fails the calling mutation.
func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

// InvalidateUser drops the cached profile for the given external id.
func InvalidateUser(ctx context.Context, externalID string) {
	Invalidate(ctx, UserKey(externalID))
}

// InvalidatePost drops the cached thread for the given post.
func InvalidatePost(ctx context.Context, postID uint) {
	Invalidate(ctx, PostKey(postID))
}

// InvalidatePage signals that the rendered content cached for the logical
// route path is stale and must be recomputed on next access.
func InvalidatePage(ctx context.Context, path string) {
	if path == "" {
		return
	}
	middleware.PageInvalidations.WithLabelValues(path).Inc()
	Invalidate(ctx, PageKey(path))
}

// keyPrefix extracts the "kind" portion of a key for metrics labels.
func keyPrefix(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
