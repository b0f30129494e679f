package repository

import (
	"context"
	"errors"

	"quill/internal/models"

	"gorm.io/gorm"
)

// PostsPerPage is the fixed page size of the home feed.
const PostsPerPage = 5

// PostPage is one page of the newest-first post listing.
type PostPage struct {
	Posts   []models.Post
	Page    int
	PerPage int
	Total   int64
}

// TotalPages returns the number of pages needed to show every post.
func (p *PostPage) TotalPages() int {
	if p.PerPage <= 0 {
		return 0
	}
	pages := int((p.Total + int64(p.PerPage) - 1) / int64(p.PerPage))
	return pages
}

// HasPrev reports whether a previous page exists.
func (p *PostPage) HasPrev() bool { return p.Page > 1 }

// HasNext reports whether a further page exists.
func (p *PostPage) HasNext() bool { return p.Page < p.TotalPages() }

// PrevPage returns the previous page number.
func (p *PostPage) PrevPage() int { return p.Page - 1 }

// NextPage returns the next page number.
func (p *PostPage) NextPage() int { return p.Page + 1 }

// PostRepository defines persistence operations for posts.
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	ListPage(ctx context.Context, page, perPage int) (*PostPage, error)
	Update(ctx context.Context, post *models.Post) error
	Delete(ctx context.Context, id uint) error
}

type postRepository struct {
	db *gorm.DB
}

// NewPostRepository returns a new PostRepository implementation.
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).Preload("User").First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Post", id)
		}
		return nil, models.NewInternalError(err)
	}
	return &post, nil
}

// ListPage returns posts ordered strictly by descending posting time.
// Page numbers start at 1; out-of-range pages return an empty post slice.
func (r *postRepository) ListPage(ctx context.Context, page, perPage int) (*PostPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = PostsPerPage
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Post{}).Count(&total).Error; err != nil {
		return nil, models.NewInternalError(err)
	}

	var posts []models.Post
	if err := r.db.WithContext(ctx).
		Preload("User").
		Order("date_posted DESC").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&posts).Error; err != nil {
		return nil, models.NewInternalError(err)
	}

	return &PostPage{
		Posts:   posts,
		Page:    page,
		PerPage: perPage,
		Total:   total,
	}, nil
}

func (r *postRepository) Update(ctx context.Context, post *models.Post) error {
	if err := r.db.WithContext(ctx).Save(post).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *postRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.Post{}, id).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}
