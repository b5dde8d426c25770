package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chirp/internal/config"
	"chirp/internal/middleware"
	"chirp/internal/models"
	"chirp/internal/repository"
	"chirp/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret"

// newTestApp wires a server against a fresh in-memory sqlite database and
// returns the routed fiber app. Metrics and tracing middleware stay out of
// the loop here; handlers are what is under test.
func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Post{}))

	cfg := &config.Config{Port: "0", JWTSecret: testSecret, Env: "test"}
	middleware.InitMiddleware(cfg)

	userRepo := repository.NewUserRepository(db)
	postRepo := repository.NewPostRepository(db)
	s := &Server{
		config:      cfg,
		db:          db,
		userRepo:    userRepo,
		postRepo:    postRepo,
		postService: service.NewPostService(postRepo, userRepo),
		userService: service.NewUserService(userRepo, postRepo),
	}

	app := fiber.New()
	s.SetupRoutes(app)
	return app
}

// bearerToken signs a token the way the upstream identity provider would,
// carrying the external user id in the subject claim.
func bearerToken(t *testing.T, externalID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": externalID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func doJSON(t *testing.T, app *fiber.App, method, url, auth string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func onboard(t *testing.T, app *fiber.App, externalID, username string) string {
	t.Helper()
	auth := bearerToken(t, externalID)
	resp := doJSON(t, app, http.MethodPut, "/api/users/me", auth, fiber.Map{
		"username":     username,
		"display_name": "User " + username,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
	return auth
}

func TestUserRoutes_RequireAuth(t *testing.T) {
	app := newTestApp(t)

	for _, url := range []string{"/api/users/me", "/api/users/", "/api/activity"} {
		resp := doJSON(t, app, http.MethodGet, url, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, url)
		_ = resp.Body.Close()
	}
}

func TestProfileLifecycle(t *testing.T) {
	app := newTestApp(t)
	auth := bearerToken(t, "ext-1")

	// Before onboarding the profile does not exist.
	resp := doJSON(t, app, http.MethodGet, "/api/users/me", auth, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	// Upsert creates it, lower-casing the username and marking onboarded.
	resp = doJSON(t, app, http.MethodPut, "/api/users/me", auth, fiber.Map{
		"username":     "MixedCase",
		"display_name": "Alice",
		"bio":          "hello",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := decode[models.User](t, resp)
	assert.Equal(t, "mixedcase", user.Username)
	assert.True(t, user.Onboarded)

	// Now the profile resolves.
	resp = doJSON(t, app, http.MethodGet, "/api/users/me", auth, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[models.User](t, resp)
	assert.Equal(t, user.ID, got.ID)

	// Missing username is rejected.
	resp = doJSON(t, app, http.MethodPut, "/api/users/me", auth, fiber.Map{
		"display_name": "Alice",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestPostLifecycle(t *testing.T) {
	app := newTestApp(t)
	alice := onboard(t, app, "ext-1", "alice")
	bob := onboard(t, app, "ext-2", "bob")

	// Alice posts.
	resp := doJSON(t, app, http.MethodPost, "/api/posts/", alice, fiber.Map{
		"text": "hello world",
		"path": "/",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	post := decode[models.Post](t, resp)
	require.NotZero(t, post.ID)

	// Too-short text is rejected.
	resp = doJSON(t, app, http.MethodPost, "/api/posts/", alice, fiber.Map{"text": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	// Bob replies.
	resp = doJSON(t, app, http.MethodPost, "/api/posts/1/replies", bob, fiber.Map{
		"text": "hi alice",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reply := decode[models.Post](t, resp)

	// The feed shows the post with the reply resolved inline.
	resp = doJSON(t, app, http.MethodGet, "/api/posts/", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	feed := decode[service.FeedPage](t, resp)
	require.Len(t, feed.Posts, 1)
	require.Len(t, feed.Posts[0].Children, 1)
	assert.Equal(t, reply.ID, feed.Posts[0].Children[0].ID)
	assert.False(t, feed.HasNext)

	// Alice's activity shows bob's reply.
	resp = doJSON(t, app, http.MethodGet, "/api/activity", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	activity := decode[map[string][]models.Post](t, resp)
	require.Len(t, activity["replies"], 1)
	assert.Equal(t, reply.ID, activity["replies"][0].ID)

	// Bob cannot delete alice's post.
	resp = doJSON(t, app, http.MethodDelete, "/api/posts/1", bob, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	// Alice deletes it, replies cascade.
	resp = doJSON(t, app, http.MethodDelete, "/api/posts/1?path=/", alice, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doJSON(t, app, http.MethodGet, "/api/posts/2", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestSearchUsersRoute_ExcludesRequester(t *testing.T) {
	app := newTestApp(t)
	alice := onboard(t, app, "ext-1", "alice")
	onboard(t, app, "ext-2", "alicia")

	resp := doJSON(t, app, http.MethodGet, "/api/users/?q=ali", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[service.UserPage](t, resp)
	require.Len(t, page.Users, 1)
	assert.Equal(t, "alicia", page.Users[0].Username)
}

func TestGetUserPostsRoute(t *testing.T) {
	app := newTestApp(t)
	alice := onboard(t, app, "ext-1", "alice")

	resp := doJSON(t, app, http.MethodPost, "/api/posts/", alice, fiber.Map{"text": "my post"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doJSON(t, app, http.MethodGet, "/api/users/ext-1/posts", alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := decode[models.User](t, resp)
	require.Len(t, user.Posts, 1)
	assert.Equal(t, "my post", user.Posts[0].Text)

	resp = doJSON(t, app, http.MethodGet, "/api/users/ghost/posts", alice, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}
