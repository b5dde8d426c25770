package server

import (
	"chirp/internal/models"
	"chirp/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SearchUsers handles GET /api/users?q=...&page=...&page_size=...&sort=asc
func (s *Server) SearchUsers(c *fiber.Ctx) error {
	page := parsePagination(c, 20)

	result, err := s.userService.SearchUsers(c.UserContext(), service.SearchUsersInput{
		RequestingExternalID: externalID(c),
		Query:                c.Query("q"),
		PageNumber:           page.Page,
		PageSize:             page.PageSize,
		Ascending:            c.Query("sort") == "asc",
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// GetMe handles GET /api/users/me. A missing profile maps to 404 here;
// clients treat it as the signal to run onboarding.
func (s *Server) GetMe(c *fiber.Ctx) error {
	user, err := s.userService.FetchUserByExternalID(c.UserContext(), externalID(c))
	if err != nil {
		return respondError(c, err)
	}
	if user == nil {
		return models.RespondWithError(c, fiber.StatusNotFound,
			models.NewNotFoundError("User", externalID(c)))
	}
	return c.JSON(user)
}

// UpdateMe handles PUT /api/users/me
func (s *Server) UpdateMe(c *fiber.Ctx) error {
	var req struct {
		Username    string `json:"username"`
		DisplayName string `json:"display_name"`
		Bio         string `json:"bio"`
		AvatarURL   string `json:"avatar_url"`
		Path        string `json:"path"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	user, err := s.userService.UpsertProfile(c.UserContext(), service.UpsertProfileInput{
		ExternalID:  externalID(c),
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		AvatarURL:   req.AvatarURL,
		Path:        req.Path,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}

// GetUserPosts handles GET /api/users/:externalId/posts
func (s *Server) GetUserPosts(c *fiber.Ctx) error {
	target := c.Params("externalId")
	if target == "" {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid user ID"))
	}

	user, err := s.userService.FetchUserPosts(c.UserContext(), target)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(user)
}
