// Package content is the read-only view of site content used while
// rendering pages. Writes belong to the data-layer service behind /api.
package content

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("content: not found")

const (
	DefaultPerPage = 10
	MaxPerPage     = 100
	// MaxPage bounds list offsets so page arithmetic cannot overflow.
	MaxPage = 10000
)

type Article struct {
	ID         string
	Title      string
	Content    string // markdown
	CategoryID string
	// MovedTo is set when the article was re-published under another id.
	MovedTo   string
	Visits    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Category struct {
	ID    string
	Name  string
	Order int
}

type Comment struct {
	ID        string
	ArticleID string
	Username  string
	Content   string
	CreatedAt time.Time
}

// ListOptions filters and pages ListArticles. Page is 1-based.
type ListOptions struct {
	CategoryID string
	Page       int
	PerPage    int
}

func (o ListOptions) normalize() ListOptions {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Page > MaxPage {
		o.Page = MaxPage
	}
	if o.PerPage < 1 {
		o.PerPage = DefaultPerPage
	}
	if o.PerPage > MaxPerPage {
		o.PerPage = MaxPerPage
	}
	return o
}

// Store is the query surface the page renderer depends on.
type Store interface {
	GetArticle(ctx context.Context, id string) (Article, error)
	ListArticles(ctx context.Context, opts ListOptions) ([]Article, error)
	GetCategory(ctx context.Context, id string) (Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	ListComments(ctx context.Context, articleID string) ([]Comment, error)
}
