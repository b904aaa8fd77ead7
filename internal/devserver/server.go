// Package devserver serves the latest good bundle over HTTP, rebuilds on
// file changes and pushes build outcomes to connected pages.
package devserver

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fluxbase-eu/fluxpack/internal/bundler"
	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/middleware"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/storage"
)

// snapshot is the set of artifacts of one successful generation.
type snapshot struct {
	generation uint64
	files      map[string][]byte
}

func newSnapshot(r *bundler.Result) *snapshot {
	s := &snapshot{generation: r.Generation, files: make(map[string][]byte)}
	for _, a := range r.Artifacts {
		s.files[filepath.ToSlash(a.Name)] = a.Code
		if a.Map != nil {
			s.files[filepath.ToSlash(a.MapName)] = a.Map
		}
	}
	return s
}

// Status is the body of the status endpoint.
type Status struct {
	State      string        `json:"state"`
	Generation uint64        `json:"generation"`
	Serving    uint64        `json:"serving"`
	Clients    int           `json:"clients"`
	Last       *Notification `json:"last,omitempty"`
}

// Server is the development server.
type Server struct {
	cfg     *config.Config
	bundler *bundler.Bundler
	hub     *Hub
	metrics *observability.Metrics
	app     *fiber.App

	current atomic.Pointer[snapshot]
	last    atomic.Pointer[Notification]
}

// New creates a server and registers its routes. metrics and tracer may be nil.
func New(cfg *config.Config, b *bundler.Bundler, hub *Hub, metrics *observability.Metrics, tracer *observability.Tracer) *Server {
	s := &Server{cfg: cfg, bundler: b, hub: hub, metrics: metrics}

	app := fiber.New(fiber.Config{
		ServerHeader:          "fluxpack",
		AppName:               "fluxpack dev server",
		DisableStartupMessage: !cfg.Debug,
		ErrorHandler:          errorHandler,
	})
	app.Use(recover.New())
	app.Use(middleware.Tracing(tracer, cfg.Metrics.Path, SocketPath))
	app.Use(middleware.RequestLogger(middleware.RequestLoggerConfig{
		SkipPaths:            []string{cfg.Metrics.Path, SocketPath},
		SlowRequestThreshold: time.Second,
	}))
	app.Use(cors.New())
	if metrics != nil {
		app.Use(metrics.MetricsMiddleware())
		if cfg.Metrics.Enabled {
			app.Get(cfg.Metrics.Path, metrics.Handler())
		}
	}

	app.Get(ClientPath, s.handleClient)
	app.Get(SocketPath, s.handleWebSocket)
	app.Get(StatusPath, s.handleStatus)
	app.Get("/*", s.handleContent)

	s.app = app
	return s
}

// App exposes the fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Apply installs the outcome of a generation. A successful build replaces
// the served artifacts; a failed one keeps the previous artifacts. Either
// way the outcome is published to reload clients.
func (s *Server) Apply(ctx context.Context, o bundler.Outcome) {
	generation := s.bundler.Generation()
	if o.Err == nil && o.Result != nil {
		s.current.Store(newSnapshot(o.Result))
		generation = o.Result.Generation
	}

	n := NewNotification(o, generation, time.Now())
	s.last.Store(&n)
	if err := s.hub.Publish(ctx, n); err != nil {
		log.Warn().Err(err).Msg("Failed to publish build notification")
	}
}

// Serve builds once, then watches, rebuilds and serves until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	res, err := s.bundler.Build(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.Apply(ctx, bundler.Outcome{Result: res, Err: err})
	if err != nil {
		log.Warn().Msg("Initial build failed; waiting for changes")
	}

	dev := s.cfg.DevServer
	watcher, err := NewWatcher(dev.WatchDirs, dev.Debounce, dev.MaxRebuildsPerSecond, s.metrics)
	if err != nil {
		return err
	}
	outputDir := s.cfg.Build.OutputDir
	watcher.Ignore = func(p string) bool {
		return defaultIgnore(p) || strings.HasPrefix(p, outputDir+string(filepath.Separator))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(watcher.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(s.bundler.Run(gctx, watcher.Changes(), func(o bundler.Outcome) {
			s.Apply(gctx, o)
		}))
	})
	g.Go(func() error {
		log.Info().Str("address", dev.Address()).Str("content_base", dev.ContentBase).Msg("Dev server listening")
		return s.app.Listen(dev.Address())
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = watcher.Close()
		return s.app.ShutdownWithTimeout(5 * time.Second)
	})

	err = g.Wait()
	s.hub.Close()
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) handleClient(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, storage.ContentType("client.js"))
	c.Set(fiber.HeaderCacheControl, "no-cache")
	return c.SendString(clientScript)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	st := Status{
		State:      "pending",
		Generation: s.bundler.Generation(),
		Clients:    s.hub.ClientCount(),
		Last:       s.last.Load(),
	}
	if snap := s.current.Load(); snap != nil {
		st.Serving = snap.generation
	}
	if st.Last != nil {
		st.State = "ok"
		if st.Last.Type == TypeBuildFailed {
			st.State = "failed"
		}
	}
	return c.JSON(st)
}

// handleContent serves build artifacts from memory and everything else
// from the content base.
func (s *Server) handleContent(c *fiber.Ctx) error {
	rel := strings.TrimPrefix(path.Clean("/"+c.Params("*")), "/")

	if snap := s.current.Load(); snap != nil {
		if data, ok := snap.files[rel]; ok {
			c.Set(fiber.HeaderContentType, storage.ContentType(rel))
			c.Set(fiber.HeaderCacheControl, "no-cache")
			return c.Send(data)
		}
	}
	if rel == s.cfg.Build.Filename || rel == s.cfg.Build.Filename+".map" {
		return fiber.NewError(fiber.StatusServiceUnavailable, "bundle has not been built yet")
	}

	file := filepath.Join(s.cfg.DevServer.ContentBase, filepath.FromSlash(rel))
	st, err := os.Stat(file)
	if err == nil && st.IsDir() {
		file = filepath.Join(file, "index.html")
		st, err = os.Stat(file)
	}
	if err != nil || st.IsDir() {
		return fiber.ErrNotFound
	}

	if strings.EqualFold(filepath.Ext(file), ".html") && s.cfg.DevServer.InjectClient {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		page, err := injectClient(f)
		if err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		c.Set(fiber.HeaderCacheControl, "no-cache")
		return c.Send(page)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, storage.ContentType(file))
	return c.Send(data)
}

// errorHandler renders errors as JSON
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	if code >= 500 && code != fiber.StatusServiceUnavailable {
		log.Error().Err(err).Str("path", c.Path()).Msg("Server error")
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
