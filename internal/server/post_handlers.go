package server

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"quill/internal/middleware"
	"quill/internal/models"
	"quill/internal/repository"
	"quill/internal/validation"
)

// Home renders the paginated feed of posts, newest first.
func (s *Server) Home(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}

	pageNum := c.QueryInt("page", 1)
	feed, err := s.posts.ListPage(c.UserContext(), pageNum, repository.PostsPerPage)
	if err != nil {
		return err
	}

	page := homePage{
		basePage: s.page(c, sess, "Home"),
		Feed:     feed,
	}
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Render("home", page)
}

// About renders the static about page.
func (s *Server) About(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}

	page := s.page(c, sess, "About")
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Render("about", page)
}

// NewPostForm renders the empty post form.
func (s *Server) NewPostForm(c *fiber.Ctx) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}

	page := postFormPage{
		basePage: s.page(c, sess, "New Post"),
		Legend:   "New Post",
		Form:     &validation.PostForm{},
		Errors:   validation.Errors{},
	}
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Render("create_post", page)
}

// CreatePost stores a new post authored by the logged-in user.
func (s *Server) CreatePost(c *fiber.Ctx) error {
	user := currentUser(c)

	sess, err := s.session(c)
	if err != nil {
		return err
	}

	form := &validation.PostForm{
		Title:   strings.TrimSpace(c.FormValue("title")),
		Content: c.FormValue("content"),
	}

	if errs := form.Validate(); errs.Any() {
		page := postFormPage{
			basePage: s.page(c, sess, "New Post"),
			Legend:   "New Post",
			Form:     form,
			Errors:   errs,
		}
		if err := sess.Save(); err != nil {
			middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
		}
		return c.Render("create_post", page)
	}

	post := &models.Post{
		Title:   form.Title,
		Content: form.Content,
		UserID:  user.ID,
	}
	if err := s.posts.Create(c.UserContext(), post); err != nil {
		return err
	}

	addFlash(sess, "success", "Your post has been created!")
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Redirect("/home", fiber.StatusSeeOther)
}

// ShowPost renders a single post. Authors see update and delete controls.
func (s *Server) ShowPost(c *fiber.Ctx) error {
	id, ok := parseID(c, "id")
	if !ok {
		return models.NewNotFoundError("Post", c.Params("id"))
	}

	post, err := s.posts.GetByID(c.UserContext(), id)
	if err != nil {
		return err
	}

	sess, err := s.session(c)
	if err != nil {
		return err
	}

	user := currentUser(c)
	page := postPage{
		basePage: s.page(c, sess, post.Title),
		Post:     post,
		IsOwner:  user != nil && user.ID == post.UserID,
	}
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Render("post", page)
}

// UpdatePostForm renders the post form prefilled with the existing post.
// Only the author may reach it.
func (s *Server) UpdatePostForm(c *fiber.Ctx) error {
	post, err := s.ownedPost(c)
	if err != nil {
		return err
	}

	sess, err := s.session(c)
	if err != nil {
		return err
	}

	page := postFormPage{
		basePage: s.page(c, sess, "Update Post"),
		Legend:   "Update Post",
		Form:     &validation.PostForm{Title: post.Title, Content: post.Content},
		Errors:   validation.Errors{},
	}
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Render("create_post", page)
}

// UpdatePost saves edits to an existing post. Only the author may do so.
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	post, err := s.ownedPost(c)
	if err != nil {
		return err
	}

	sess, err := s.session(c)
	if err != nil {
		return err
	}

	form := &validation.PostForm{
		Title:   strings.TrimSpace(c.FormValue("title")),
		Content: c.FormValue("content"),
	}

	if errs := form.Validate(); errs.Any() {
		page := postFormPage{
			basePage: s.page(c, sess, "Update Post"),
			Legend:   "Update Post",
			Form:     form,
			Errors:   errs,
		}
		if err := sess.Save(); err != nil {
			middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
		}
		return c.Render("create_post", page)
	}

	post.Title = form.Title
	post.Content = form.Content
	if err := s.posts.Update(c.UserContext(), post); err != nil {
		return err
	}

	addFlash(sess, "success", "Your post has been updated!")
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Redirect(fmt.Sprintf("/post/%d", post.ID), fiber.StatusSeeOther)
}

// DeletePost removes a post. Only the author may do so.
func (s *Server) DeletePost(c *fiber.Ctx) error {
	post, err := s.ownedPost(c)
	if err != nil {
		return err
	}

	if err := s.posts.Delete(c.UserContext(), post.ID); err != nil {
		return err
	}

	sess, err := s.session(c)
	if err != nil {
		return err
	}
	addFlash(sess, "success", "Your post has been deleted!")
	if err := sess.Save(); err != nil {
		middleware.Logger.ErrorContext(c.UserContext(), "failed to save session", "error", err)
	}
	return c.Redirect("/home", fiber.StatusSeeOther)
}

// ownedPost loads the post named in the route and checks that the logged-in
// user wrote it.
func (s *Server) ownedPost(c *fiber.Ctx) (*models.Post, error) {
	id, ok := parseID(c, "id")
	if !ok {
		return nil, models.NewNotFoundError("Post", c.Params("id"))
	}

	post, err := s.posts.GetByID(c.UserContext(), id)
	if err != nil {
		return nil, err
	}

	user := currentUser(c)
	if user == nil || user.ID != post.UserID {
		return nil, models.NewForbiddenError("only the author can modify this post")
	}
	return post, nil
}
