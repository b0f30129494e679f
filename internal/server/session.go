package server

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"quill/internal/middleware"
	"quill/internal/models"
)

const (
	sessionUserKey  = "user_id"
	sessionFlashKey = "flashes"

	// sessionDuration is the default cookie lifetime for a plain login.
	sessionDuration = 24 * time.Hour

	// rememberDuration is the extended lifetime when "remember me" is checked.
	rememberDuration = 30 * 24 * time.Hour
)

// session loads the request's session. Each handler acquires the session once
// and saves it once; a second Get after Save would start a fresh session.
func (s *Server) session(c *fiber.Ctx) (*session.Session, error) {
	sess, err := s.store.Get(c)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return sess, nil
}

// addFlash queues a notice for the next rendered page. Flashes are stored as
// a JSON string so the session encoder needs no type registration.
func addFlash(sess *session.Session, category, message string) {
	flashes := readFlashes(sess)
	flashes = append(flashes, Flash{Category: category, Message: message})
	raw, err := json.Marshal(flashes)
	if err != nil {
		return
	}
	sess.Set(sessionFlashKey, string(raw))
}

// popFlashes drains the queued notices. The caller must Save the session for
// the drain to stick.
func popFlashes(sess *session.Session) []Flash {
	flashes := readFlashes(sess)
	if len(flashes) > 0 {
		sess.Delete(sessionFlashKey)
	}
	return flashes
}

func readFlashes(sess *session.Session) []Flash {
	raw, ok := sess.Get(sessionFlashKey).(string)
	if !ok || raw == "" {
		return nil
	}
	var flashes []Flash
	if err := json.Unmarshal([]byte(raw), &flashes); err != nil {
		return nil
	}
	return flashes
}

// loginUser binds the session to the user. With remember set the cookie and
// stored session live for thirty days instead of the default day.
func loginUser(sess *session.Session, userID uint, remember bool) {
	sess.Set(sessionUserKey, userID)
	if remember {
		sess.SetExpiry(rememberDuration)
	}
}

// sessionUserID returns the logged-in user id, if any.
func sessionUserID(sess *session.Session) (uint, bool) {
	switch v := sess.Get(sessionUserKey).(type) {
	case uint:
		return v, v != 0
	case int:
		if v > 0 {
			return uint(v), true
		}
	case uint64:
		if v > 0 {
			return uint(v), true
		}
	case int64:
		if v > 0 {
			return uint(v), true
		}
	}
	return 0, false
}

// loadCurrentUser resolves the session's user and exposes it to handlers and
// templates via locals. A session pointing at a deleted user is destroyed.
func (s *Server) loadCurrentUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := s.store.Get(c)
		if err != nil {
			return c.Next()
		}

		uid, ok := sessionUserID(sess)
		if !ok {
			return c.Next()
		}

		user, err := s.users.GetByID(c.UserContext(), uid)
		if err != nil {
			if models.IsCode(err, "NOT_FOUND") {
				_ = sess.Destroy()
			} else {
				middleware.Logger.ErrorContext(c.UserContext(), "failed to load session user", "error", err)
			}
			return c.Next()
		}

		c.Locals("userID", user.ID)
		c.Locals("currentUser", user)
		return c.Next()
	}
}

// requireAuth redirects anonymous requests to the login page, remembering the
// page they were after in the next parameter.
func (s *Server) requireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if currentUser(c) != nil {
			return c.Next()
		}

		if sess, err := s.store.Get(c); err == nil {
			addFlash(sess, "info", "Please log in to access that page.")
			if err := sess.Save(); err != nil {
				middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
			}
		}

		target := "/login"
		if c.Method() == fiber.MethodGet {
			target += "?next=" + url.QueryEscape(c.OriginalURL())
		}
		return c.Redirect(target, fiber.StatusSeeOther)
	}
}

// safeNext sanitizes a post-login redirect target. Only site-relative paths
// are honored so the login flow cannot be used as an open redirect.
func safeNext(next string) string {
	if next == "" ||
		!strings.HasPrefix(next, "/") ||
		strings.HasPrefix(next, "//") ||
		strings.Contains(next, "://") ||
		strings.ContainsAny(next, "\\\r\n") {
		return "/home"
	}
	return next
}
