package server

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"quill/internal/models"
)

// currentUser returns the logged-in user loaded by the session middleware,
// or nil for anonymous requests.
func currentUser(c *fiber.Ctx) *models.User {
	if user, ok := c.Locals("currentUser").(*models.User); ok {
		return user
	}
	return nil
}

// parseID reads a positive numeric route parameter.
func parseID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// HealthCheck reports process and database liveness.
func (s *Server) HealthCheck(c *fiber.Ctx) error {
	status := "ok"
	dbStatus := "ok"

	if s.db != nil {
		if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(c.UserContext()) != nil {
			status = "degraded"
			dbStatus = "unreachable"
		}
	}

	return c.JSON(fiber.Map{
		"status":   status,
		"database": dbStatus,
	})
}
