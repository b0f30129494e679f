package server

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"quill/internal/middleware"
	"quill/internal/models"
	"quill/internal/validation"
)

// RegisterForm renders the registration page. Logged-in users are sent home.
func (s *Server) RegisterForm(c *fiber.Ctx) error {
	if currentUser(c) != nil {
		return c.Redirect("/home", fiber.StatusSeeOther)
	}

	sess, err := s.session(c)
	if err != nil {
		return err
	}

	page := registerPage{
		basePage: s.page(c, sess, "Register"),
		Form:     &validation.RegistrationForm{},
		Errors:   validation.Errors{},
	}
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Render("register", page)
}

// Register creates a new account from the submitted form.
func (s *Server) Register(c *fiber.Ctx) error {
	if currentUser(c) != nil {
		return c.Redirect("/home", fiber.StatusSeeOther)
	}

	sess, err := s.session(c)
	if err != nil {
		return err
	}

	form := &validation.RegistrationForm{
		Username: strings.TrimSpace(c.FormValue("username")),
		Email:    strings.ToLower(strings.TrimSpace(c.FormValue("email"))),
		Password: c.FormValue("password"),
		Confirm:  c.FormValue("confirm_password"),
	}

	errs, err := form.Validate(c.UserContext(), s.users)
	if err != nil {
		return err
	}

	if !errs.Any() {
		hashed, err := s.hasher.Hash(form.Password)
		if err != nil {
			return models.NewInternalError(err)
		}

		user := &models.User{
			Username: form.Username,
			Email:    form.Email,
			Password: hashed,
		}
		switch err := s.users.Create(c.UserContext(), user); {
		case err == nil:
			addFlash(sess, "success", "Your account has been created! You are now able to log in.")
			if err := sess.Save(); err != nil {
				middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
			}
			return c.Redirect("/login", fiber.StatusSeeOther)
		case models.IsCode(err, "VALIDATION_ERROR"):
			// Lost a race with a concurrent signup for the same name or email.
			errs["username"] = "that username or email is already taken"
		default:
			return err
		}
	}

	page := registerPage{
		basePage: s.page(c, sess, "Register"),
		Form:     form,
		Errors:   errs,
	}
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Render("register", page)
}

// LoginForm renders the login page. Logged-in users are sent home.
func (s *Server) LoginForm(c *fiber.Ctx) error {
	if currentUser(c) != nil {
		return c.Redirect("/home", fiber.StatusSeeOther)
	}

	sess, err := s.session(c)
	if err != nil {
		return err
	}

	page := loginPage{
		basePage: s.page(c, sess, "Login"),
		Form:     &validation.LoginForm{},
		Errors:   validation.Errors{},
	}
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Render("login", page)
}

// Login checks the submitted credentials and starts a session. A successful
// login honors the sanitized next parameter.
func (s *Server) Login(c *fiber.Ctx) error {
	if currentUser(c) != nil {
		return c.Redirect("/home", fiber.StatusSeeOther)
	}

	sess, err := s.session(c)
	if err != nil {
		return err
	}

	form := &validation.LoginForm{
		Email:    strings.ToLower(strings.TrimSpace(c.FormValue("email"))),
		Password: c.FormValue("password"),
		Remember: c.FormValue("remember") != "",
	}
	errs := form.Validate()

	if !errs.Any() {
		user, err := s.users.GetByEmail(c.UserContext(), form.Email)
		if err != nil {
			return err
		}

		if user != nil && s.hasher.Verify(user.Password, form.Password) {
			loginUser(sess, user.ID, form.Remember)
			if err := sess.Save(); err != nil {
				return models.NewInternalError(err)
			}
			return c.Redirect(safeNext(c.Query("next")), fiber.StatusSeeOther)
		}
	}

	page := loginPage{
		basePage: s.page(c, sess, "Login"),
		Form:     form,
		Errors:   errs,
	}
	if !errs.Any() {
		// The notice is rendered directly so a refusal never survives a reload.
		page.Flashes = append(page.Flashes, Flash{
			Category: "danger",
			Message:  "Login unsuccessful. Please check email and password.",
		})
	}
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Render("login", page)
}

// Logout ends the session and returns to the home page.
func (s *Server) Logout(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	if err := sess.Destroy(); err != nil {
		return models.NewInternalError(err)
	}
	return c.Redirect("/home", fiber.StatusSeeOther)
}
