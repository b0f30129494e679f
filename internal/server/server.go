// Package server wires the HTTP surface of the application: routing,
// sessions, template rendering, and the handlers behind each page.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/template/html/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"quill/internal/auth"
	"quill/internal/cache"
	"quill/internal/config"
	"quill/internal/database"
	"quill/internal/mail"
	"quill/internal/media"
	"quill/internal/middleware"
	"quill/internal/models"
	"quill/internal/repository"
	"quill/web"
)

// Server holds the application's dependencies and handler state.
type Server struct {
	cfg     *config.Config
	db      *gorm.DB
	rdb     *redis.Client
	store   *session.Store
	users   repository.UserRepository
	posts   repository.PostRepository
	mailer  mail.Mailer
	avatars *media.Store
	hasher  auth.PasswordHasher
	tokens  *auth.TokenIssuer
}

// New builds a Server with production dependencies: the configured Postgres
// database, Redis for rate limiting, and a real SMTP mailer.
func New(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}

	cache.InitRedis(cfg.RedisURL)

	mailer, err := mail.NewSMTPMailer(cfg)
	if err != nil {
		return nil, err
	}

	return NewWithDeps(cfg, db, cache.GetClient(), mailer)
}

// NewWithDeps builds a Server around explicit dependencies. Tests use it to
// substitute an in-memory database and a recording mailer.
func NewWithDeps(cfg *config.Config, db *gorm.DB, rdb *redis.Client, mailer mail.Mailer) (*Server, error) {
	avatars, err := media.NewStore(cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	if err := avatars.EnsureDefault(); err != nil {
		return nil, err
	}

	return &Server{
		cfg:     cfg,
		db:      db,
		rdb:     rdb,
		mailer:  mailer,
		avatars: avatars,
		users:   repository.NewUserRepository(db),
		posts:   repository.NewPostRepository(db),
		hasher:  auth.NewPasswordHasher(cfg.BcryptCost),
		tokens:  auth.NewTokenIssuer(cfg.SecretKey),
		store: session.New(session.Config{
			Expiration:     sessionDuration,
			KeyLookup:      "cookie:quill_session",
			CookieHTTPOnly: true,
			CookieSameSite: "Lax",
			CookieSecure:   cfg.IsProduction(),
		}),
	}, nil
}

// DB exposes the underlying database handle for shutdown.
func (s *Server) DB() *gorm.DB {
	return s.db
}

// App assembles the Fiber application: template engine, middleware chain,
// static assets, and routes.
func (s *Server) App() *fiber.App {
	engine := html.NewFileSystem(http.FS(web.Templates()), ".html")

	app := fiber.New(fiber.Config{
		AppName:      "quill",
		Views:        engine,
		ViewsLayout:  "layouts/main",
		BodyLimit:    10 * 1024 * 1024,
		ErrorHandler: s.errorHandler,
	})

	s.setupMiddleware(app)
	s.setupRoutes(app)

	return app
}

func (s *Server) setupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(helmet.New())
	app.Use(s.loadCurrentUser())
	app.Use(middleware.ContextMiddleware())

	prom := middleware.InitMetrics("quill")
	prom.RegisterAt(app, "/metrics")
	app.Use(middleware.MetricsMiddleware(prom))

	app.Use(middleware.StructuredLogger())
}

func (s *Server) setupRoutes(app *fiber.App) {
	// Uploaded avatars live on disk; everything else is embedded.
	app.Static("/static/profile_pics", s.avatars.Dir())
	app.Use("/static", filesystem.New(filesystem.Config{
		Root:   http.FS(web.Static()),
		MaxAge: 3600,
	}))

	app.Get("/healthz", s.HealthCheck)

	app.Get("/", s.Home)
	app.Get("/home", s.Home)
	app.Get("/about", s.About)

	app.Get("/register", s.RegisterForm)
	app.Post("/register", middleware.RateLimit(s.rdb, 3, 10*time.Minute, "register"), s.Register)
	app.Get("/login", s.LoginForm)
	app.Post("/login", middleware.RateLimit(s.rdb, 10, 5*time.Minute, "login"), s.Login)
	app.Get("/logout", s.Logout)

	app.Get("/reset_password", s.ResetRequestForm)
	app.Post("/reset_password", middleware.RateLimit(s.rdb, 5, 15*time.Minute, "password_reset"), s.ResetRequest)
	app.Get("/reset_password/:token", s.ResetPasswordForm)
	app.Post("/reset_password/:token", s.ResetPassword)

	app.Get("/account", s.requireAuth(), s.AccountForm)
	app.Post("/account", s.requireAuth(), s.UpdateAccount)

	// /post/new must be registered before the /post/:id wildcard.
	app.Get("/post/new", s.requireAuth(), s.NewPostForm)
	app.Post("/post/new", s.requireAuth(), s.CreatePost)
	app.Get("/post/:id", s.ShowPost)
	app.Get("/post/:id/update", s.requireAuth(), s.UpdatePostForm)
	app.Post("/post/:id/update", s.requireAuth(), s.UpdatePost)
	app.Post("/post/:id/delete", s.requireAuth(), s.DeletePost)
}

// errorHandler maps application errors to status codes and renders the error
// page. Unexpected failures are logged with their request context.
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	message := "Something went wrong on our end. Please try again later."

	var appErr *models.AppError
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &appErr):
		switch appErr.Code {
		case "NOT_FOUND":
			status = fiber.StatusNotFound
			message = "That page does not exist."
		case "VALIDATION_ERROR":
			status = fiber.StatusBadRequest
			message = appErr.Message
		case "UNAUTHORIZED":
			status = fiber.StatusUnauthorized
			message = "Please log in to access that page."
		case "FORBIDDEN":
			status = fiber.StatusForbidden
			message = "You do not have permission to do that."
		}
	case errors.As(err, &fiberErr):
		status = fiberErr.Code
		if status == fiber.StatusNotFound {
			message = "That page does not exist."
		} else if status < fiber.StatusInternalServerError {
			message = fiberErr.Message
		}
	}

	if status >= fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "request error", "error", err, "path", c.Path())
	}

	page := errorPage{
		basePage: basePage{CurrentUser: currentUser(c)},
		Status:   status,
		Message:  message,
	}
	if renderErr := c.Status(status).Render("error", page); renderErr != nil {
		return c.Status(status).SendString(message)
	}
	return nil
}
