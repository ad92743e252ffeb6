package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/inkpot/internal/auth"
	"github.com/briangreenhill/inkpot/internal/bundle"
	"github.com/briangreenhill/inkpot/internal/clock"
	"github.com/briangreenhill/inkpot/internal/config"
	"github.com/briangreenhill/inkpot/internal/content"
	"github.com/briangreenhill/inkpot/internal/microcache"
	"github.com/briangreenhill/inkpot/internal/render"
)

const testSecret = "routes-secret"

// countingRenderer records calls and delegates to fn.
type countingRenderer struct {
	calls atomic.Int32
	fn    func(ctx context.Context, rc *render.Context) (string, error)
}

func (c *countingRenderer) Render(ctx context.Context, rc *render.Context) (string, error) {
	c.calls.Add(1)
	return c.fn(ctx, rc)
}

func echoRenderer() *countingRenderer {
	return &countingRenderer{fn: func(_ context.Context, rc *render.Context) (string, error) {
		return "<html>" + rc.Title + " " + rc.URL + "</html>", nil
	}}
}

type testEnv struct {
	srv   *Server
	slot  *render.Slot
	clock *clock.FakeClock
}

func newTestEnv(t *testing.T, vars map[string]string) *testEnv {
	t.Helper()
	cfg, err := config.LoadFrom(vars)
	require.NoError(t, err)
	cfg.DefaultTitle = "Site"
	cfg.BundleDir = t.TempDir()

	fc := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := microcache.New[string, []byte](microcache.Options{
		Capacity: cfg.MicroCacheMax,
		TTL:      cfg.MicroCacheTTL,
		Clock:    fc,
	})
	slot := render.NewSlot()
	srv, err := New(ServerOptions{
		Cfg:       cfg,
		Gate:      auth.NewGate(auth.NewVerifier([]byte(cfg.JWTSecret))),
		Renderers: slot,
		Cache:     cache,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return &testEnv{srv: srv, slot: slot, clock: fc}
}

func (e *testEnv) get(target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.srv.Router.ServeHTTP(w, r)
	return w
}

func credentialCookies(t *testing.T, names auth.CookieNames, id, name string) []*http.Cookie {
	t.Helper()
	cred, err := auth.Issuer{Secret: []byte(testSecret)}.Credential(id, name, time.Hour)
	require.NoError(t, err)
	return []*http.Cookie{
		{Name: names.Token, Value: cred.Token},
		{Name: names.ID, Value: cred.ID},
		{Name: names.Name, Value: cred.Name},
	}
}

func TestHomePageIsRenderedOnceAndCached(t *testing.T) {
	env := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret})
	var seen *render.Context
	rr := &countingRenderer{fn: func(ctx context.Context, rc *render.Context) (string, error) {
		seen = rc
		return "<html>" + rc.Title + " " + rc.URL + "</html>", nil
	}}
	env.slot.Store(rr)

	first := env.get("/")
	second := env.get("/")

	for _, w := range []*httptest.ResponseRecorder{first, second} {
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "<html>Site /</html>", w.Body.String())
		assert.Equal(t, "text/html", w.Header().Get("Content-Type"))
		server := w.Header().Get("Server")
		assert.True(t, strings.HasPrefix(server, "chi/"), server)
		assert.Contains(t, server, "inkpot-render/"+render.Version)
	}
	assert.Equal(t, int32(1), rr.calls.Load())
	require.NotNil(t, seen)
	assert.Equal(t, render.Context{Title: "Site", URL: "/", Cookies: map[string]string{}}, *seen)
}

func TestCacheKeyIncludesQuery(t *testing.T) {
	env := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret})
	rr := echoRenderer()
	env.slot.Store(rr)

	assert.Equal(t, "<html>Site /?page=2</html>", env.get("/?page=2").Body.String())
	env.get("/")
	assert.Equal(t, int32(2), rr.calls.Load())
}

func TestCacheExpiry(t *testing.T) {
	env := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret})
	rr := echoRenderer()
	env.slot.Store(rr)

	env.get("/a")
	env.clock.Advance(500 * time.Millisecond)
	env.get("/a")
	assert.Equal(t, int32(1), rr.calls.Load(), "fresh within TTL")

	env.clock.Advance(600 * time.Millisecond)
	env.get("/a")
	assert.Equal(t, int32(2), rr.calls.Load(), "re-rendered after TTL")
}

func TestCacheDisabled(t *testing.T) {
	env := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret, "MICRO_CACHE": "false"})
	rr := echoRenderer()
	env.slot.Store(rr)

	env.get("/")
	env.get("/")
	assert.Equal(t, int32(2), rr.calls.Load())
}

func TestAccessGate(t *testing.T) {
	env := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret})
	rr := echoRenderer()
	env.slot.Store(rr)

	admin := credentialCookies(t, auth.AdminCookies, "1", "root")
	user := credentialCookies(t, auth.UserCookies, "7", "xiaoming")

	t.Run("admin root goes to article list without rendering", func(t *testing.T) {
		before := rr.calls.Load()
		w := env.get("/backend", admin...)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/backend/article/list", w.Header().Get("Location"))
		assert.Equal(t, before, rr.calls.Load())
	})

	t.Run("admin area without credential", func(t *testing.T) {
		w := env.get("/backend/article/list")
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/backend", w.Header().Get("Location"))
	})

	t.Run("admin area with credential renders", func(t *testing.T) {
		w := env.get("/backend/article/list", admin...)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("user area with valid credential leaves cookies alone", func(t *testing.T) {
		w := env.get("/user/profile", user...)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Values("Set-Cookie"))
	})

	t.Run("user area accepts percent-encoded name cookie", func(t *testing.T) {
		encoded := credentialCookies(t, auth.UserCookies, "9", "小明 li")
		encoded[2].Value = auth.EncodeURI("小明 li")
		w := env.get("/user/settings", encoded...)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("user area accepts raw non-ascii name cookie", func(t *testing.T) {
		cred, err := auth.Issuer{Secret: []byte(testSecret)}.Credential("9", "小明", time.Hour)
		require.NoError(t, err)
		r := httptest.NewRequest(http.MethodGet, "/user/settings", nil)
		r.Header.Set("Cookie", "user="+cred.Token+"; userid=9; username=小明")
		w := httptest.NewRecorder()
		env.srv.Router.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Values("Set-Cookie"))
	})

	t.Run("id mismatch clears cookies and redirects", func(t *testing.T) {
		forged := []*http.Cookie{user[0], {Name: "userid", Value: "8"}, user[2]}
		w := env.get("/user/profile", forged...)
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "/", w.Header().Get("Location"))

		cleared := map[string]bool{}
		for _, c := range w.Result().Cookies() {
			assert.Equal(t, "", c.Value)
			assert.Equal(t, -1, c.MaxAge)
			cleared[c.Name] = true
		}
		assert.Equal(t, map[string]bool{"user": true, "userid": true, "username": true}, cleared)
	})
}

func TestSignedInPagesAreNotShared(t *testing.T) {
	env := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret, "RENDER_COALESCE": "true"})
	rr := &countingRenderer{fn: func(ctx context.Context, rc *render.Context) (string, error) {
		if id, ok := auth.IdentityFrom(ctx); ok {
			return "hello " + id.Name, nil
		}
		return "hello guest", nil
	}}
	env.slot.Store(rr)

	alice := credentialCookies(t, auth.UserCookies, "1", "alice")
	bob := credentialCookies(t, auth.UserCookies, "2", "bob")

	assert.Equal(t, "hello alice", env.get("/user/profile", alice...).Body.String())
	assert.Equal(t, "hello bob", env.get("/user/profile", bob...).Body.String())
	assert.Equal(t, "hello alice", env.get("/user/profile", alice...).Body.String())
	assert.Equal(t, int32(3), rr.calls.Load())

	assert.Equal(t, "hello guest", env.get("/").Body.String())
	assert.Equal(t, "hello guest", env.get("/").Body.String())
	assert.Equal(t, int32(4), rr.calls.Load(), "anonymous pages are still cached")
}

func TestRenderFailures(t *testing.T) {
	env := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret})
	rr := &countingRenderer{fn: func(_ context.Context, rc *render.Context) (string, error) {
		switch rc.URL {
		case "/missing":
			return "", render.ErrNotFound
		case "/moved":
			return "", render.Redirect("/article/2")
		default:
			return "", errors.New("template exploded")
		}
	}}
	env.slot.Store(rr)

	w := env.get("/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "404 | Page Not Found", w.Body.String())

	w = env.get("/moved")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/article/2", w.Header().Get("Location"))

	w = env.get("/boom")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "500 | Internal Server Error", w.Body.String())
	assert.NotContains(t, w.Body.String(), "exploded")

	before := rr.calls.Load()
	env.get("/missing")
	env.get("/moved")
	env.get("/boom")
	assert.Equal(t, before+3, rr.calls.Load(), "failures are never cached")
}

func TestRequestsWaitForFirstRenderer(t *testing.T) {
	env := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- env.get("/") }()

	select {
	case <-done:
		t.Fatal("request completed before a renderer was ready")
	case <-time.After(50 * time.Millisecond):
	}

	env.slot.Store(echoRenderer())
	select {
	case w := <-done:
		assert.Equal(t, http.StatusOK, w.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("request never completed")
	}
}

func TestCanceledWaitDoesNotRender(t *testing.T) {
	env := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	env.srv.Router.ServeHTTP(w, r)

	assert.Empty(t, w.Body.String())
}

func TestRendererHotSwap(t *testing.T) {
	env := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret, "MICRO_CACHE": "false"})
	fixed := func(body string) render.Renderer {
		return render.RendererFunc(func(context.Context, *render.Context) (string, error) { return body, nil })
	}

	env.slot.Store(fixed("v1"))
	assert.Equal(t, "v1", env.get("/").Body.String())
	env.slot.Store(fixed("v2"))
	assert.Equal(t, "v2", env.get("/").Body.String())
}

func TestRenderCoalesce(t *testing.T) {
	env := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret, "MICRO_CACHE": "false", "RENDER_COALESCE": "true"})
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	rr := &countingRenderer{fn: func(context.Context, *render.Context) (string, error) {
		entered <- struct{}{}
		<-release
		return "shared", nil
	}}
	env.slot.Store(rr)

	var wg sync.WaitGroup
	bodies := make([]string, 2)
	wg.Add(1)
	go func() { defer wg.Done(); bodies[0] = env.get("/slow").Body.String() }()
	<-entered
	wg.Add(1)
	go func() { defer wg.Done(); bodies[1] = env.get("/slow").Body.String() }()
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, []string{"shared", "shared"}, bodies)
	assert.Equal(t, int32(1), rr.calls.Load())
}

func TestHealthAndAPI(t *testing.T) {
	env := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret})

	w := env.get("/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = env.get("/api/articles")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("upstream " + r.URL.Path))
	}))
	defer upstream.Close()

	proxied := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret, "API_UPSTREAM": upstream.URL})
	w = proxied.get("/api/articles")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "upstream /api/articles", w.Body.String())

	_, err := NewAPIProxy("not a url")
	assert.Error(t, err)
}

func TestStaticFiles(t *testing.T) {
	env := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret, "APP_ENV": "production"})
	dir := env.srv.Cfg.BundleDir
	require.NoError(t, os.MkdirAll(filepath.Join(dir, bundle.StaticDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, bundle.StaticDir, "logo.txt"), []byte("logo"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("js"), 0o644))

	w := env.get("/static/logo.txt")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "logo", w.Body.String())
	assert.Equal(t, "public, max-age=2592000", w.Header().Get("Cache-Control"))

	w = env.get("/dist/app.js")
	assert.Equal(t, "js", w.Body.String())
}

// End to end with a real bundle on disk.
func TestBundlePipeline(t *testing.T) {
	env := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret})
	dir := env.srv.Cfg.BundleDir
	require.NoError(t, os.MkdirAll(filepath.Join(dir, bundle.TemplateDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, bundle.SpecFile), []byte(`
routes:
  - pattern: /
    template: home
    data: articles
  - pattern: /article/{id}
    template: article
    data: article
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, bundle.TemplateDir, "pages.tmpl"), []byte(
		`{{define "home"}}<title>{{.Title}}</title>{{range .Data.Articles}}<a href="/article/{{.ID}}">{{.Title}}</a>{{end}}{{end}}`+
			`{{define "article"}}<title>{{.Title}}</title>{{.Data.Body}}{{end}}`), 0o644))

	store := content.NewMemoryStore()
	store.PutArticle(content.Article{ID: "1", Title: "First", Content: "*hi*", CreatedAt: time.Now()})
	b, err := bundle.Load(bundle.Options{Dir: dir, Store: store})
	require.NoError(t, err)
	env.slot.Store(b)

	w := env.get("/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `<title>Site</title><a href="/article/1">First</a>`, w.Body.String())

	w = env.get("/article/1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<title>First - Site</title>")
	assert.Contains(t, w.Body.String(), "<em>hi</em>")

	w = env.get("/article/2")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "404 | Page Not Found", w.Body.String())
}

func TestCoalescedRenderSurvivesLeaderCancel(t *testing.T) {
	env := newTestEnv(t, map[string]string{"JWT_SECRET": testSecret, "MICRO_CACHE": "false", "RENDER_COALESCE": "true"})
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	rr := &countingRenderer{fn: func(ctx context.Context, _ *render.Context) (string, error) {
		entered <- struct{}{}
		<-release
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "shared", nil
	}}
	env.slot.Store(rr)

	ctx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		r := httptest.NewRequest(http.MethodGet, "/slow", nil).WithContext(ctx)
		env.srv.Router.ServeHTTP(httptest.NewRecorder(), r)
	}()
	<-entered

	follower := make(chan *httptest.ResponseRecorder, 1)
	go func() { follower <- env.get("/slow") }()
	time.Sleep(100 * time.Millisecond)

	cancel()
	select {
	case <-leaderDone:
	case <-time.After(2 * time.Second):
		t.Fatal("canceled leader kept waiting on the render")
	}
	close(release)

	select {
	case w := <-follower:
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "shared", w.Body.String())
	case <-time.After(2 * time.Second):
		t.Fatal("follower never completed")
	}
	assert.Equal(t, int32(1), rr.calls.Load())
}
