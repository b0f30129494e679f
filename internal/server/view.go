package server

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"quill/internal/models"
	"quill/internal/repository"
	"quill/internal/validation"
)

// Flash is a one-shot notice shown on the next rendered page.
// Category is one of "success", "info", "warning", "danger".
type Flash struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// basePage carries the fields every template's layout needs.
type basePage struct {
	Title       string
	CurrentUser *models.User
	Flashes     []Flash
}

type homePage struct {
	basePage
	Feed *repository.PostPage
}

type registerPage struct {
	basePage
	Form   *validation.RegistrationForm
	Errors validation.Errors
}

type loginPage struct {
	basePage
	Form   *validation.LoginForm
	Errors validation.Errors
}

type accountPage struct {
	basePage
	Form     *validation.AccountForm
	Errors   validation.Errors
	ImageURL string
}

type postFormPage struct {
	basePage
	Legend string
	Form   *validation.PostForm
	Errors validation.Errors
}

type postPage struct {
	basePage
	Post    *models.Post
	IsOwner bool
}

type resetRequestPage struct {
	basePage
	Form   *validation.ResetRequestForm
	Errors validation.Errors
}

type resetPasswordPage struct {
	basePage
	Errors validation.Errors
}

type errorPage struct {
	basePage
	Status  int
	Message string
}

// page builds the layout data for a request, draining any pending flashes
// from the session. The caller still owns the session and must Save it.
func (s *Server) page(c *fiber.Ctx, sess *session.Session, title string) basePage {
	b := basePage{Title: title, CurrentUser: currentUser(c)}
	if sess != nil {
		b.Flashes = popFlashes(sess)
	}
	return b
}
