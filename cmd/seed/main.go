package main

import (
	"context"
	"flag"
	"os"

	"quill/internal/config"
	"quill/internal/database"
	"quill/internal/middleware"
	"quill/internal/seed"
)

func main() {
	users := flag.Int("users", 5, "number of users to create")
	posts := flag.Int("posts", 25, "number of posts to create")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		middleware.Logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if cfg.IsProduction() {
		middleware.Logger.Error("refusing to seed a production database")
		os.Exit(1)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		middleware.Logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		middleware.Logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	if err := seed.Run(context.Background(), db, *users, *posts); err != nil {
		middleware.Logger.Error("seeding failed", "error", err)
		os.Exit(1)
	}

	middleware.Logger.Info("database seeded",
		"users", *users,
		"posts", *posts,
		"password", seed.Password)
}
