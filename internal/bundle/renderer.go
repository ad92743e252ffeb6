// Package bundle renders pages from a bundle directory: a route table, a set
// of html/template files, and an optional client asset manifest.
package bundle

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/briangreenhill/inkpot/internal/auth"
	"github.com/briangreenhill/inkpot/internal/content"
	"github.com/briangreenhill/inkpot/internal/microcache"
	"github.com/briangreenhill/inkpot/internal/render"
)

// Options configures Load.
type Options struct {
	Dir       string
	Store     content.Store
	Fragments *microcache.Cache[string, template.HTML]
	// Loaders defaults to DefaultRegistry.
	Loaders *Registry
}

// PageData is the dot value every page template executes with.
type PageData struct {
	Title    string
	URL      string
	Path     string
	Params   map[string]string
	Query    url.Values
	Cookies  map[string]string
	Identity auth.Identity
	Assets   Assets
	Data     any
}

type route struct {
	spec   RouteSpec
	loader Loader
}

// Renderer is an immutable, loaded bundle. It is safe for concurrent use.
type Renderer struct {
	routes    *chi.Mux
	byPattern map[string]route
	redirects *chi.Mux
	targets   map[string]string
	tmpl      *template.Template
	assets    Assets
	store     content.Store
	markdown  *Markdown
}

var _ render.Renderer = (*Renderer)(nil)

var funcMap = template.FuncMap{
	"add":  func(a, b int) int { return a + b },
	"sub":  func(a, b int) int { return a - b },
	"date": func(t time.Time) string { return t.Format("2006-01-02") },
	"datetime": func(t time.Time) string {
		return t.Format("2006-01-02 15:04")
	},
}

// Load reads and validates the bundle in opts.Dir.
func Load(opts Options) (*Renderer, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: no content store", ErrBundleInvalid)
	}
	loaders := opts.Loaders
	if loaders == nil {
		loaders = DefaultRegistry()
	}

	raw, err := os.ReadFile(filepath.Join(opts.Dir, SpecFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBundleInvalid, err)
	}
	spec, err := ParseSpec(raw)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New("").Funcs(funcMap).ParseGlob(filepath.Join(opts.Dir, TemplateDir, "*.tmpl"))
	if err != nil {
		return nil, fmt.Errorf("%w: templates: %w", ErrBundleInvalid, err)
	}

	manifest, err := readClientManifest(filepath.Join(opts.Dir, ClientManifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBundleInvalid, err)
	}

	b := &Renderer{
		byPattern: make(map[string]route, len(spec.Routes)),
		targets:   make(map[string]string, len(spec.Redirects)),
		tmpl:      tmpl,
		assets:    manifest.Assets(),
		store:     opts.Store,
		markdown:  NewMarkdown(opts.Fragments),
	}

	patterns := make([]string, 0, len(spec.Routes))
	for _, rs := range spec.Routes {
		if tmpl.Lookup(rs.Template) == nil {
			return nil, fmt.Errorf("%w: route %q: template %q not defined", ErrBundleInvalid, rs.Pattern, rs.Template)
		}
		l, ok := loaders.Get(rs.Data)
		if !ok {
			return nil, fmt.Errorf("%w: route %q: unknown data loader %q (have %s)",
				ErrBundleInvalid, rs.Pattern, rs.Data, strings.Join(loaders.List(), ", "))
		}
		key := routeKey(rs.Pattern)
		if _, dup := b.byPattern[key]; dup {
			return nil, fmt.Errorf("%w: route %q collides with another route", ErrBundleInvalid, rs.Pattern)
		}
		b.byPattern[key] = route{spec: rs, loader: l}
		patterns = append(patterns, rs.Pattern)
	}
	if b.routes, err = buildMux(patterns); err != nil {
		return nil, err
	}

	froms := make([]string, 0, len(spec.Redirects))
	for _, rd := range spec.Redirects {
		b.targets[routeKey(rd.From)] = rd.To
		froms = append(froms, rd.From)
	}
	if b.redirects, err = buildMux(froms); err != nil {
		return nil, err
	}
	return b, nil
}

// buildMux registers patterns on a chi router used only for matching. chi
// panics on malformed or conflicting patterns.
func buildMux(patterns []string) (mux *chi.Mux, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrBundleInvalid, p)
		}
	}()
	mux = chi.NewRouter()
	for _, p := range patterns {
		mux.Get(p, http.NotFound)
	}
	return mux, nil
}

func match(mux *chi.Mux, path string) (string, map[string]string, bool) {
	rctx := chi.NewRouteContext()
	if !mux.Match(rctx, http.MethodGet, path) {
		return "", nil, false
	}
	params := make(map[string]string, len(rctx.URLParams.Keys))
	for i, k := range rctx.URLParams.Keys {
		params[k] = rctx.URLParams.Values[i]
	}
	return routeKey(rctx.RoutePattern()), params, true
}

// routeKey normalises a pattern the way chi reports a matched one.
func routeKey(pattern string) string {
	if pattern == "/" {
		return pattern
	}
	return strings.TrimSuffix(pattern, "/")
}

func expand(target string, params map[string]string) string {
	for k, v := range params {
		target = strings.ReplaceAll(target, "{"+k+"}", url.PathEscape(v))
	}
	return target
}

// Render matches rc.URL against the bundle's redirects and then its routes,
// runs the route's loader and executes its template.
func (b *Renderer) Render(ctx context.Context, rc *render.Context) (string, error) {
	u, err := url.ParseRequestURI(rc.URL)
	if err != nil {
		return "", fmt.Errorf("%w: %w", render.ErrNotFound, err)
	}

	if pattern, params, ok := match(b.redirects, u.Path); ok {
		return "", render.Redirect(expand(b.targets[pattern], params))
	}

	pattern, params, ok := match(b.routes, u.Path)
	if !ok {
		return "", render.ErrNotFound
	}
	rt, ok := b.byPattern[pattern]
	if !ok {
		return "", fmt.Errorf("matched pattern %q has no route", pattern)
	}

	query := u.Query()
	page, err := rt.loader.Load(ctx, LoadRequest{
		Params:   params,
		Query:    query,
		Store:    b.store,
		Markdown: b.markdown,
	})
	if err != nil {
		return "", err
	}

	title := rc.Title
	if page.Title != "" {
		title = page.Title + " - " + rc.Title
	}
	id, _ := auth.IdentityFrom(ctx)
	data := PageData{
		Title:    title,
		URL:      rc.URL,
		Path:     u.Path,
		Params:   params,
		Query:    query,
		Cookies:  rc.Cookies,
		Identity: id,
		Assets:   b.assets,
		Data:     page.Data,
	}

	var buf bytes.Buffer
	if err := b.tmpl.ExecuteTemplate(&buf, rt.spec.Template, data); err != nil {
		return "", fmt.Errorf("render template %s: %w", rt.spec.Template, err)
	}
	return buf.String(), nil
}
