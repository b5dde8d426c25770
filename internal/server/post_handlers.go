package server

import (
	"chirp/internal/models"
	"chirp/internal/service"

	"github.com/gofiber/fiber/v2"
)

// GetFeed handles GET /api/posts
func (s *Server) GetFeed(c *fiber.Ctx) error {
	page := parsePagination(c, 20)

	feed, err := s.postService.FetchFeed(c.UserContext(), page.Page, page.PageSize)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(feed)
}

// GetPost handles GET /api/posts/:id
func (s *Server) GetPost(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}

	post, err := s.postService.FetchPostByID(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(post)
}

// CreatePost handles POST /api/posts
func (s *Server) CreatePost(c *fiber.Ctx) error {
	var req struct {
		Text string `json:"text"`
		Path string `json:"path"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	post, err := s.postService.CreatePost(c.UserContext(), service.CreatePostInput{
		Text:             req.Text,
		AuthorExternalID: externalID(c),
		Path:             req.Path,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// AddReply handles POST /api/posts/:id/replies
func (s *Server) AddReply(c *fiber.Ctx) error {
	parentID, err := s.parseID(c)
	if err != nil {
		return nil
	}

	var req struct {
		Text string `json:"text"`
		Path string `json:"path"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	reply, err := s.postService.AddReply(c.UserContext(), service.AddReplyInput{
		ParentID:         parentID,
		Text:             req.Text,
		AuthorExternalID: externalID(c),
		Path:             req.Path,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(reply)
}

// DeletePost handles DELETE /api/posts/:id
func (s *Server) DeletePost(c *fiber.Ctx) error {
	id, err := s.parseID(c)
	if err != nil {
		return nil
	}

	err = s.postService.DeletePost(c.UserContext(), service.DeletePostInput{
		PostID:          id,
		ActorExternalID: externalID(c),
		Path:            c.Query("path"),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetActivity handles GET /api/activity
func (s *Server) GetActivity(c *fiber.Ctx) error {
	replies, err := s.postService.FetchActivity(c.UserContext(), externalID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"replies": replies})
}
