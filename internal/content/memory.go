package content

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps content in process. Used by tests and when no database
// is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	articles   map[string]Article
	categories map[string]Category
	comments   map[string][]Comment
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		articles:   make(map[string]Article),
		categories: make(map[string]Category),
		comments:   make(map[string][]Comment),
	}
}

func (m *MemoryStore) PutArticle(a Article) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.articles[a.ID] = a
}

func (m *MemoryStore) PutCategory(c Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[c.ID] = c
}

func (m *MemoryStore) AddComment(c Comment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comments[c.ArticleID] = append(m.comments[c.ArticleID], c)
}

func (m *MemoryStore) GetArticle(ctx context.Context, id string) (Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.articles[id]
	if !ok {
		return Article{}, ErrNotFound
	}
	return a, nil
}

// ListArticles returns articles newest first.
func (m *MemoryStore) ListArticles(ctx context.Context, opts ListOptions) ([]Article, error) {
	opts = opts.normalize()

	m.mu.RLock()
	out := make([]Article, 0, len(m.articles))
	for _, a := range m.articles {
		if opts.CategoryID != "" && a.CategoryID != opts.CategoryID {
			continue
		}
		out = append(out, a)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	start := (opts.Page - 1) * opts.PerPage
	if start >= len(out) {
		return []Article{}, nil
	}
	end := min(start+opts.PerPage, len(out))
	return out[start:end], nil
}

func (m *MemoryStore) GetCategory(ctx context.Context, id string) (Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.categories[id]
	if !ok {
		return Category{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) ListCategories(ctx context.Context) ([]Category, error) {
	m.mu.RLock()
	out := make([]Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Order == out[j].Order {
			return out[i].ID < out[j].ID
		}
		return out[i].Order < out[j].Order
	})
	return out, nil
}

// ListComments returns comments oldest first.
func (m *MemoryStore) ListComments(ctx context.Context, articleID string) ([]Comment, error) {
	m.mu.RLock()
	out := append([]Comment(nil), m.comments[articleID]...)
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
