package server

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"quill/internal/middleware"
	"quill/internal/models"
	"quill/internal/validation"
)

// ResetRequestForm renders the page asking for the account's email address.
func (s *Server) ResetRequestForm(c *fiber.Ctx) error {
	if currentUser(c) != nil {
		return c.Redirect("/home", fiber.StatusSeeOther)
	}

	sess, err := s.session(c)
	if err != nil {
		return err
	}

	page := resetRequestPage{
		basePage: s.page(c, sess, "Reset Password"),
		Form:     &validation.ResetRequestForm{},
		Errors:   validation.Errors{},
	}
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Render("reset_request", page)
}

// ResetRequest emails a signed, time-limited reset link to the account that
// owns the submitted address.
func (s *Server) ResetRequest(c *fiber.Ctx) error {
	if currentUser(c) != nil {
		return c.Redirect("/home", fiber.StatusSeeOther)
	}

	sess, err := s.session(c)
	if err != nil {
		return err
	}

	form := &validation.ResetRequestForm{
		Email: strings.ToLower(strings.TrimSpace(c.FormValue("email"))),
	}
	errs := form.Validate()

	if !errs.Any() {
		user, err := s.users.GetByEmail(c.UserContext(), form.Email)
		if err != nil {
			return err
		}

		if user == nil {
			addFlash(sess, "danger", "There is no account with that email. You must register first.")
			if err := sess.Save(); err != nil {
				middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
			}
			return c.Redirect("/register", fiber.StatusSeeOther)
		}

		token, err := s.tokens.IssueResetToken(user.ID)
		if err != nil {
			return models.NewInternalError(err)
		}
		resetURL := strings.TrimRight(s.cfg.BaseURL, "/") + "/reset_password/" + token

		if err := s.mailer.SendPasswordReset(c.UserContext(), user.Email, resetURL); err != nil {
			middleware.Logger.ErrorContext(c.UserContext(), "failed to send reset email", "error", err)
			page := resetRequestPage{
				basePage: s.page(c, sess, "Reset Password"),
				Form:     form,
				Errors:   errs,
			}
			page.Flashes = append(page.Flashes, Flash{
				Category: "danger",
				Message:  "We could not send the reset email. Please try again later.",
			})
			if err := sess.Save(); err != nil {
				middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
			}
			return c.Render("reset_request", page)
		}

		addFlash(sess, "info", "An email has been sent with instructions to reset your password.")
		if err := sess.Save(); err != nil {
			middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
		}
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	page := resetRequestPage{
		basePage: s.page(c, sess, "Reset Password"),
		Form:     form,
		Errors:   errs,
	}
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Render("reset_request", page)
}

// ResetPasswordForm renders the new-password page once the token checks out.
func (s *Server) ResetPasswordForm(c *fiber.Ctx) error {
	if currentUser(c) != nil {
		return c.Redirect("/home", fiber.StatusSeeOther)
	}

	sess, err := s.session(c)
	if err != nil {
		return err
	}

	if _, err := s.resetTokenUser(c); err != nil {
		return s.rejectResetToken(c, sess)
	}

	page := resetPasswordPage{
		basePage: s.page(c, sess, "Reset Password"),
		Errors:   validation.Errors{},
	}
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Render("reset_password", page)
}

// ResetPassword sets a new password for the user named by a valid token.
func (s *Server) ResetPassword(c *fiber.Ctx) error {
	if currentUser(c) != nil {
		return c.Redirect("/home", fiber.StatusSeeOther)
	}

	sess, err := s.session(c)
	if err != nil {
		return err
	}

	user, err := s.resetTokenUser(c)
	if err != nil {
		return s.rejectResetToken(c, sess)
	}

	form := &validation.ResetPasswordForm{
		Password: c.FormValue("password"),
		Confirm:  c.FormValue("confirm_password"),
	}

	if errs := form.Validate(); errs.Any() {
		page := resetPasswordPage{
			basePage: s.page(c, sess, "Reset Password"),
			Errors:   errs,
		}
		if err := sess.Save(); err != nil {
			middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
		}
		return c.Render("reset_password", page)
	}

	hashed, err := s.hasher.Hash(form.Password)
	if err != nil {
		return models.NewInternalError(err)
	}
	user.Password = hashed
	if err := s.users.Update(c.UserContext(), user); err != nil {
		return err
	}

	addFlash(sess, "success", "Your password has been updated! You are now able to log in.")
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Redirect("/login", fiber.StatusSeeOther)
}

// resetTokenUser verifies the route token and loads the user it names.
func (s *Server) resetTokenUser(c *fiber.Ctx) (*models.User, error) {
	userID, err := s.tokens.VerifyResetToken(c.Params("token"))
	if err != nil {
		return nil, err
	}
	return s.users.GetByID(c.UserContext(), userID)
}

func (s *Server) rejectResetToken(c *fiber.Ctx, sess *session.Session) error {
	addFlash(sess, "warning", "That is an invalid or expired token.")
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Redirect("/reset_password", fiber.StatusSeeOther)
}
