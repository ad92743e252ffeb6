// Package render defines the contract between the HTTP render pipeline and
// whatever turns a request context into HTML.
package render

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Version is reported in the Server response header.
const Version = "1.0.0"

// Context is the per-request input handed to a Renderer.
type Context struct {
	Title   string
	URL     string
	Cookies map[string]string
}

// NewContext builds a Context from r. URL is the request URI (path and query).
func NewContext(title string, r *http.Request) *Context {
	cookies := make(map[string]string, len(r.Cookies()))
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}
	return &Context{Title: title, URL: r.URL.RequestURI(), Cookies: cookies}
}

// Renderer produces a page for a request context. Implementations signal
// non-success outcomes with ErrNotFound or a *RedirectError; any other error
// is an internal failure.
type Renderer interface {
	Render(ctx context.Context, rc *Context) (string, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, rc *Context) (string, error)

func (f RendererFunc) Render(ctx context.Context, rc *Context) (string, error) {
	return f(ctx, rc)
}

// ErrNotFound reports that no page exists for the URL.
var ErrNotFound = errors.New("render: page not found")

// RedirectError asks the pipeline to redirect instead of rendering.
type RedirectError struct {
	URL string
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("render: redirect to %s", e.URL)
}

// Redirect returns a *RedirectError for url.
func Redirect(url string) error {
	return &RedirectError{URL: url}
}

// Outcome classifies a failed render.
type Outcome int

const (
	OutcomeInternal Outcome = iota
	OutcomeRedirect
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRedirect:
		return "redirect"
	case OutcomeNotFound:
		return "not-found"
	default:
		return "internal"
	}
}

// Classify maps a render error to its outcome. For redirects the target URL
// is returned as well.
func Classify(err error) (Outcome, string) {
	var re *RedirectError
	switch {
	case errors.As(err, &re):
		return OutcomeRedirect, re.URL
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound, ""
	default:
		return OutcomeInternal, ""
	}
}
