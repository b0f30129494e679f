// Package seed fills a development database with plausible users and posts.
package seed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"

	"quill/internal/auth"
	"quill/internal/media"
	"quill/internal/models"
)

// Password is the plaintext login for every seeded account.
const Password = "password123"

// Run inserts userCount users and postCount posts. Posts are spread over the
// preceding weeks so the home feed paginates realistically.
func Run(ctx context.Context, db *gorm.DB, userCount, postCount int) error {
	if userCount < 1 {
		userCount = 1
	}

	hasher := auth.NewPasswordHasher(0)
	hashed, err := hasher.Hash(Password)
	if err != nil {
		return fmt.Errorf("failed to hash seed password: %w", err)
	}

	users := make([]*models.User, 0, userCount)
	for i := 0; i < userCount; i++ {
		user := &models.User{
			Username:  fakeUsername(i),
			Email:     fmt.Sprintf("%s@%s", fakeUsername(i), gofakeit.DomainName()),
			Password:  hashed,
			ImageFile: media.DefaultAvatar,
		}
		if err := db.WithContext(ctx).Create(user).Error; err != nil {
			return fmt.Errorf("failed to create seed user: %w", err)
		}
		users = append(users, user)
	}

	now := time.Now().UTC()
	for i := 0; i < postCount; i++ {
		author := users[gofakeit.Number(0, len(users)-1)]
		post := &models.Post{
			Title:      gofakeit.Sentence(gofakeit.Number(3, 7)),
			Content:    strings.Join(paragraphs(), "\n\n"),
			DatePosted: now.Add(-time.Duration(i) * time.Duration(gofakeit.Number(2, 40)) * time.Hour),
			UserID:     author.ID,
		}
		if err := db.WithContext(ctx).Create(post).Error; err != nil {
			return fmt.Errorf("failed to create seed post: %w", err)
		}
	}

	return nil
}

func fakeUsername(i int) string {
	name := strings.ToLower(gofakeit.Username())
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return -1
	}, name)
	if len(name) < 3 {
		name = "writer"
	}
	if len(name) > 24 {
		name = name[:24]
	}
	return fmt.Sprintf("%s%d", strings.Trim(name, "_-"), i)
}

func paragraphs() []string {
	count := gofakeit.Number(1, 3)
	out := make([]string, count)
	for i := range out {
		out[i] = gofakeit.Paragraph(1, gofakeit.Number(2, 5), gofakeit.Number(8, 16), " ")
	}
	return out
}
