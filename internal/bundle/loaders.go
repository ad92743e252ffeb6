package bundle

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/briangreenhill/inkpot/internal/content"
	"github.com/briangreenhill/inkpot/internal/render"
)

// Loader fetches the data a page template needs
type Loader interface {
	// Name is the value routes use in their data field (e.g., "article")
	Name() string

	// Load returns the page data for one matched route
	Load(ctx context.Context, req LoadRequest) (Page, error)
}

// LoadRequest carries the matched route's inputs to a Loader
type LoadRequest struct {
	Params   map[string]string
	Query    url.Values
	Store    content.Store
	Markdown *Markdown
}

// Page is a loader's result. A non-empty Title is prefixed to the site title.
type Page struct {
	Title string
	Data  any
}

// Registry manages the available data loaders
type Registry struct {
	loaders map[string]Loader
}

// NewRegistry creates an empty loader registry
func NewRegistry() *Registry {
	return &Registry{
		loaders: make(map[string]Loader),
	}
}

// DefaultRegistry holds every built-in loader
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(noneLoader{})
	r.Register(articlesLoader{})
	r.Register(categoryLoader{})
	r.Register(articleLoader{})
	r.Register(categoriesLoader{})
	return r
}

// Register adds a loader, replacing any with the same name
func (r *Registry) Register(l Loader) {
	r.loaders[l.Name()] = l
}

// Get retrieves a loader by name
func (r *Registry) Get(name string) (Loader, bool) {
	l, ok := r.loaders[name]
	return l, ok
}

// List returns all registered loader names, sorted
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.loaders))
	for name := range r.loaders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// notFound maps a missing record onto the render not-found outcome.
func notFound(err error) error {
	if errors.Is(err, content.ErrNotFound) {
		return fmt.Errorf("%w: %w", render.ErrNotFound, err)
	}
	return err
}

// pageNumber reads ?page=. Missing or malformed values mean the first page;
// pages past content.MaxPage do not exist.
func pageNumber(q url.Values) (int, error) {
	raw := q.Get("page")
	n, err := strconv.Atoi(raw)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(raw, "-") {
			return 0, fmt.Errorf("%w: page %s", render.ErrNotFound, raw)
		}
		return 1, nil
	}
	if n < 1 {
		return 1, nil
	}
	if n > content.MaxPage {
		return 0, fmt.Errorf("%w: page %d", render.ErrNotFound, n)
	}
	return n, nil
}

// ArticleList is the data for paged article listings.
type ArticleList struct {
	Category *content.Category
	Articles []content.Article
	Page     int
	HasNext  bool
}

// ArticleView is the data for a single article page.
type ArticleView struct {
	Article  content.Article
	Body     template.HTML
	Category *content.Category
	Comments []content.Comment
}

type noneLoader struct{}

func (noneLoader) Name() string { return "none" }

func (noneLoader) Load(context.Context, LoadRequest) (Page, error) {
	return Page{}, nil
}

type articlesLoader struct{}

func (articlesLoader) Name() string { return "articles" }

func (articlesLoader) Load(ctx context.Context, req LoadRequest) (Page, error) {
	page, err := pageNumber(req.Query)
	if err != nil {
		return Page{}, err
	}
	list, err := req.Store.ListArticles(ctx, content.ListOptions{Page: page})
	if err != nil {
		return Page{}, fmt.Errorf("listing articles: %w", err)
	}
	return Page{Data: ArticleList{
		Articles: list,
		Page:     page,
		HasNext:  len(list) == content.DefaultPerPage,
	}}, nil
}

type categoryLoader struct{}

func (categoryLoader) Name() string { return "category" }

func (categoryLoader) Load(ctx context.Context, req LoadRequest) (Page, error) {
	cat, err := req.Store.GetCategory(ctx, req.Params["id"])
	if err != nil {
		return Page{}, notFound(err)
	}
	page, err := pageNumber(req.Query)
	if err != nil {
		return Page{}, err
	}
	list, err := req.Store.ListArticles(ctx, content.ListOptions{CategoryID: cat.ID, Page: page})
	if err != nil {
		return Page{}, fmt.Errorf("listing category %s: %w", cat.ID, err)
	}
	return Page{Title: cat.Name, Data: ArticleList{
		Category: &cat,
		Articles: list,
		Page:     page,
		HasNext:  len(list) == content.DefaultPerPage,
	}}, nil
}

type articleLoader struct{}

func (articleLoader) Name() string { return "article" }

// Load redirects to the new location of a moved article.
func (articleLoader) Load(ctx context.Context, req LoadRequest) (Page, error) {
	a, err := req.Store.GetArticle(ctx, req.Params["id"])
	if err != nil {
		return Page{}, notFound(err)
	}
	if a.MovedTo != "" {
		return Page{}, render.Redirect("/article/" + url.PathEscape(a.MovedTo))
	}

	body, err := req.Markdown.Article(a)
	if err != nil {
		return Page{}, err
	}
	view := ArticleView{Article: a, Body: body}

	if a.CategoryID != "" {
		cat, err := req.Store.GetCategory(ctx, a.CategoryID)
		switch {
		case err == nil:
			view.Category = &cat
		case !errors.Is(err, content.ErrNotFound):
			return Page{}, fmt.Errorf("category of %s: %w", a.ID, err)
		}
	}

	view.Comments, err = req.Store.ListComments(ctx, a.ID)
	if err != nil {
		return Page{}, fmt.Errorf("comments of %s: %w", a.ID, err)
	}
	return Page{Title: a.Title, Data: view}, nil
}

type categoriesLoader struct{}

func (categoriesLoader) Name() string { return "categories" }

func (categoriesLoader) Load(ctx context.Context, req LoadRequest) (Page, error) {
	cats, err := req.Store.ListCategories(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("listing categories: %w", err)
	}
	return Page{Data: cats}, nil
}
