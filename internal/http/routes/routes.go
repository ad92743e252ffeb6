package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/singleflight"

	"github.com/briangreenhill/inkpot/internal/auth"
	"github.com/briangreenhill/inkpot/internal/bundle"
	"github.com/briangreenhill/inkpot/internal/config"
	appmw "github.com/briangreenhill/inkpot/internal/http/middleware"
	"github.com/briangreenhill/inkpot/internal/microcache"
	"github.com/briangreenhill/inkpot/internal/render"
)

// PageCache stores rendered pages keyed by request URI.
type PageCache = microcache.ReadWriter[string, []byte]

const (
	notFoundBody = "404 | Page Not Found"
	internalBody = "500 | Internal Server Error"

	staticMaxAge = 30 * 24 * time.Hour
)

type Server struct {
	Router     *chi.Mux
	Cfg        *config.Config
	Gate       *auth.Gate
	Renderers  *render.Slot
	Cache      PageCache // nil when the microcache is off
	ServerInfo string

	flights singleflight.Group
}

type ServerOptions struct {
	Cfg       *config.Config
	Gate      *auth.Gate
	Renderers *render.Slot
	Cache     PageCache
	Logger    zerolog.Logger
}

func New(opts ServerOptions) (*Server, error) {
	if opts.Cfg == nil || opts.Gate == nil || opts.Renderers == nil {
		return nil, errors.New("routes: config, gate and renderer slot are required")
	}

	gz, err := gzhttp.NewWrapper(gzhttp.MinSize(0))
	if err != nil {
		return nil, fmt.Errorf("gzip wrapper: %w", err)
	}
	api, err := NewAPIProxy(opts.Cfg.APIUpstream)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.GetHead)
	r.Use(func(next http.Handler) http.Handler { return gz(next) })

	s := &Server{
		Router:     r,
		Cfg:        opts.Cfg,
		Gate:       opts.Gate,
		Renderers:  opts.Renderers,
		Cache:      opts.Cache,
		ServerInfo: serverInfo(),
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("writing health check response")
		}
	})

	r.Handle("/api", api)
	r.Handle("/api/*", api)

	static := s.fileServer("/static/", filepath.Join(opts.Cfg.BundleDir, bundle.StaticDir))
	r.Get("/static/*", static)
	r.Get("/dist/*", s.fileServer("/dist/", opts.Cfg.BundleDir))

	r.Group(func(pr chi.Router) {
		pr.Use(s.waitReady)
		pr.Use(appmw.Gate(s.Gate))
		pr.Get("/*", s.handleRender)
	})

	return s, nil
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Info().
		Str("method", r.Method).
		Stringer("url", r.URL).
		Int("status", status).
		Int("size", size).
		Str("referer", r.Referer()).
		Str("user_agent", r.UserAgent()).
		Dur("duration", duration).
		Msg("request")
}

func serverInfo() string {
	chiVersion := "unknown"
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range bi.Deps {
			if dep.Path == "github.com/go-chi/chi/v5" {
				chiVersion = dep.Version
				break
			}
		}
	}
	return fmt.Sprintf("chi/%s inkpot-render/%s", chiVersion, render.Version)
}

func (s *Server) fileServer(prefix, dir string) http.HandlerFunc {
	fs := http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Cfg.IsProduction() {
			w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(staticMaxAge.Seconds())))
		}
		fs.ServeHTTP(w, r)
	}
}

// waitReady holds requests until the first renderer is available. A client
// that disconnects first gets no response.
func (s *Server) waitReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.Renderers.Wait(r.Context()); err != nil {
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) cacheable() bool {
	return s.Cfg.MicroCache && s.Cache != nil
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	log := hlog.FromRequest(r)
	key := r.URL.RequestURI()

	w.Header().Set("Content-Type", "text/html")
	w.Header().Set("Server", s.ServerInfo)

	// Pages rendered for a signed-in identity are never shared.
	_, personal := auth.IdentityFrom(r.Context())
	cacheable := s.cacheable() && !personal
	if cacheable {
		if body, ok := s.Cache.Get(key); ok {
			log.Debug().Str("url", key).Msg("cache hit")
			s.write(w, r, http.StatusOK, body)
			return
		}
	}

	html, err := s.renderPage(r.Context(), key, render.NewContext(s.Cfg.DefaultTitle, r), !personal)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	body := []byte(html)
	s.write(w, r, http.StatusOK, body)
	if cacheable {
		s.Cache.Set(key, body)
	}
	if !s.Cfg.IsProduction() {
		log.Debug().Str("url", key).Dur("duration", time.Since(start)).Msg("whole request")
	}
}

// renderPage runs the current renderer. Shared renders are coalesced by key
// and detached from the leader's cancellation so one client hanging up does
// not fail the requests waiting on it.
func (s *Server) renderPage(ctx context.Context, key string, rc *render.Context, shared bool) (string, error) {
	renderer := s.Renderers.Load()
	if renderer == nil {
		return "", errors.New("no renderer loaded")
	}
	if !s.Cfg.RenderCoalesce || !shared {
		return renderer.Render(ctx, rc)
	}
	ch := s.flights.DoChan(key, func() (any, error) {
		return renderer.Render(context.WithoutCancel(ctx), rc)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch outcome, target := render.Classify(err); outcome {
	case render.OutcomeRedirect:
		http.Redirect(w, r, target, http.StatusFound)
	case render.OutcomeNotFound:
		s.write(w, r, http.StatusNotFound, []byte(notFoundBody))
	default:
		hlog.FromRequest(r).Error().Err(err).Str("url", r.URL.RequestURI()).Msg("error during render")
		s.write(w, r, http.StatusInternalServerError, []byte(internalBody))
	}
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, status int, body []byte) {
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("writing response")
	}
}
