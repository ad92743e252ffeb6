package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore reads content from Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const articleColumns = `id, title, content, category_id, moved_to, visits, created_at, updated_at`

func scanArticle(row pgx.Row) (Article, error) {
	var (
		a       Article
		movedTo pgtype.Text
	)
	err := row.Scan(&a.ID, &a.Title, &a.Content, &a.CategoryID, &movedTo, &a.Visits, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Article{}, err
	}
	if movedTo.Valid {
		a.MovedTo = movedTo.String
	}
	return a, nil
}

func (s *PGStore) GetArticle(ctx context.Context, id string) (Article, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+articleColumns+` FROM articles WHERE id = $1 AND NOT deleted`, id)
	a, err := scanArticle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Article{}, ErrNotFound
	}
	if err != nil {
		return Article{}, fmt.Errorf("get article %s: %w", id, err)
	}
	return a, nil
}

func (s *PGStore) ListArticles(ctx context.Context, opts ListOptions) ([]Article, error) {
	opts = opts.normalize()

	rows, err := s.pool.Query(ctx, `SELECT `+articleColumns+` FROM articles
		WHERE NOT deleted AND ($1 = '' OR category_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`,
		opts.CategoryID, opts.PerPage, (opts.Page-1)*opts.PerPage)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}

	articles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Article, error) {
		return scanArticle(row)
	})
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return articles, nil
}

func (s *PGStore) GetCategory(ctx context.Context, id string) (Category, error) {
	var c Category
	err := s.pool.QueryRow(ctx, `SELECT id, name, sort_order FROM categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Order)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, ErrNotFound
	}
	if err != nil {
		return Category{}, fmt.Errorf("get category %s: %w", id, err)
	}
	return c, nil
}

func (s *PGStore) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, sort_order FROM categories ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	categories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Category, error) {
		var c Category
		err := row.Scan(&c.ID, &c.Name, &c.Order)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return categories, nil
}

func (s *PGStore) ListComments(ctx context.Context, articleID string) ([]Comment, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, article_id, username, content, created_at
		FROM comments WHERE article_id = $1 AND NOT deleted
		ORDER BY created_at`, articleID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	comments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Comment, error) {
		var c Comment
		err := row.Scan(&c.ID, &c.ArticleID, &c.Username, &c.Content, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}
