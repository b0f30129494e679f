package server

import (
	"errors"
	"io"
	"strings"

	"github.com/gofiber/fiber/v2"

	"quill/internal/middleware"
	"quill/internal/models"
	"quill/internal/validation"
)

// AccountForm renders the account page prefilled with the current profile.
func (s *Server) AccountForm(c *fiber.Ctx) error {
	user := currentUser(c)

	sess, err := s.session(c)
	if err != nil {
		return err
	}

	page := accountPage{
		basePage: s.page(c, sess, "Account"),
		Form:     &validation.AccountForm{Username: user.Username, Email: user.Email},
		Errors:   validation.Errors{},
		ImageURL: "/static/profile_pics/" + user.ImageFile,
	}
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Render("account", page)
}

// UpdateAccount applies profile changes and an optional new profile picture.
// The upload is resized into the thumbnail bound and stored under a random
// filename; the previous picture is removed once the update sticks.
func (s *Server) UpdateAccount(c *fiber.Ctx) error {
	user := currentUser(c)

	sess, err := s.session(c)
	if err != nil {
		return err
	}

	form := &validation.AccountForm{
		Username: strings.TrimSpace(c.FormValue("username")),
		Email:    strings.ToLower(strings.TrimSpace(c.FormValue("email"))),
	}

	errs, err := form.Validate(c.UserContext(), s.users, user.ID)
	if err != nil {
		return err
	}

	newImage := ""
	if fileHeader, err := c.FormFile("picture"); err == nil && fileHeader != nil && fileHeader.Size > 0 {
		file, err := fileHeader.Open()
		if err != nil {
			return models.NewInternalError(err)
		}
		content, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return models.NewInternalError(err)
		}

		saved, err := s.avatars.Save(content)
		switch {
		case err == nil:
			newImage = saved
		case models.IsCode(err, "VALIDATION_ERROR"):
			var appErr *models.AppError
			if errors.As(err, &appErr) {
				errs["picture"] = appErr.Message
			}
		default:
			return err
		}
	}

	if !errs.Any() {
		oldImage := user.ImageFile
		user.Username = form.Username
		user.Email = form.Email
		if newImage != "" {
			user.ImageFile = newImage
		}

		switch err := s.users.Update(c.UserContext(), user); {
		case err == nil:
			if newImage != "" && oldImage != newImage {
				if err := s.avatars.Remove(oldImage); err != nil {
					middleware.Logger.WarnContext(c.UserContext(), "failed to remove old avatar", "file", oldImage, "error", err)
				}
			}
			addFlash(sess, "success", "Your account has been updated!")
			if err := sess.Save(); err != nil {
				middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
			}
			return c.Redirect("/account", fiber.StatusSeeOther)
		case models.IsCode(err, "VALIDATION_ERROR"):
			user.ImageFile = oldImage
			errs["username"] = "that username or email is already taken"
		default:
			return err
		}
	}

	// An orphaned upload is cleaned up when the rest of the form failed.
	if newImage != "" {
		if err := s.avatars.Remove(newImage); err != nil {
			middleware.Logger.WarnContext(c.UserContext(), "failed to remove unused avatar", "file", newImage, "error", err)
		}
	}

	page := accountPage{
		basePage: s.page(c, sess, "Account"),
		Form:     form,
		Errors:   errs,
		ImageURL: "/static/profile_pics/" + user.ImageFile,
	}
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Render("account", page)
}
