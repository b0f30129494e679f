// Package models contains data structures for the application's domain models.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Post is a text entry authored by exactly one user.
type Post struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Title      string         `gorm:"not null" json:"title"`
	Content    string         `gorm:"type:text;not null" json:"content"`
	DatePosted time.Time      `gorm:"index;not null" json:"date_posted"`
	UserID     uint           `gorm:"not null;index" json:"user_id"`
	User       User           `gorm:"foreignKey:UserID" json:"user"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate stamps the posting time when the caller did not set one.
func (p *Post) BeforeCreate(_ *gorm.DB) error {
	if p.DatePosted.IsZero() {
		p.DatePosted = time.Now().UTC()
	}
	return nil
}
