package server

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/cors"

	"github.com/joeblew999/greenedumap/internal/api"
	"github.com/joeblew999/greenedumap/internal/config"
	"github.com/joeblew999/greenedumap/internal/dashboard"
	"github.com/joeblew999/greenedumap/internal/db"
	"github.com/joeblew999/greenedumap/internal/events"
	"github.com/joeblew999/greenedumap/internal/feature"
	"github.com/joeblew999/greenedumap/internal/humastar"
	"github.com/joeblew999/greenedumap/internal/layer"
	"github.com/joeblew999/greenedumap/internal/mapengine/browser"
	"github.com/joeblew999/greenedumap/internal/metrics"
	"github.com/joeblew999/greenedumap/internal/source"
	"github.com/joeblew999/greenedumap/internal/templates"
)

//go:embed web
var webFS embed.FS

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	App     config.Config
}

// Server is the map HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	handler  http.Handler
	humaAPI  huma.API
	services *api.Services
	index    *template.Template
	log      *slog.Logger
	closers  []func()
}

// New creates a new map server. Optional backends (Postgres, Redis, NATS,
// the record store) that fail to open are logged and left out.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{config: cfg, mux: http.NewServeMux(), log: log}

	presets := layer.DefaultPresets()
	if cfg.App.Presets != "" {
		p, err := layer.LoadPresets(cfg.App.Presets)
		if err != nil {
			return nil, err
		}
		presets = p
	}

	renderer, err := templates.New()
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	s.index, err = template.ParseFS(webFS, "web/index.html")
	if err != nil {
		return nil, fmt.Errorf("loading index page: %w", err)
	}

	store, err := db.Open(db.Config{
		DataDir:    cfg.DataDir,
		DBName:     cfg.App.DuckDB.Name,
		Extensions: cfg.App.DuckDB.Extensions,
	}, log)
	if err != nil {
		log.Warn("record store unavailable", "error", err)
		store = nil
	} else {
		s.closers = append(s.closers, func() { store.Close() })
	}

	hub := browser.NewHub(log)
	bus := events.NewBus(s.sinks()...)
	s.services = &api.Services{
		Sessions: &dashboard.Manager{
			Presets: presets,
			Map:     cfg.App.Session(),
			Query: source.Query{
				Limit:   cfg.App.Paging.Limit,
				Filters: map[string]string{"city": cfg.App.Paging.City},
			},
			Source:  s.source(ctx),
			Factory: hub.Factory(),
			Store:   store,
			Bus:     bus,
			Log:     log,

			IdleTimeout: cfg.App.Sessions.IdleTimeout,
		},
		Hub:     hub,
		Store:   store,
		Bus:     bus,
		DataDir: cfg.DataDir,
	}
	if !cfg.App.HasMapCredential() {
		log.Warn("no map access token configured; pages are served without a map")
	}

	sweepCtx, stopSweep := context.WithCancel(context.WithoutCancel(ctx))
	go s.services.Sessions.Run(sweepCtx, cfg.App.Sessions.SweepInterval)
	s.closers = append(s.closers, stopSweep)

	links := humastar.Links{}
	links.Add("/api/v1/info", "/openapi.json", "service-desc")
	links.Add("/api/v1/layers", "/api/v1/presets", "related")
	links.Add("/api/v1/records", "/api/v1/tables", "related")
	links.Add("/api/v1/sessions/{id}", "/api/v1/sessions/{id}/stream", "alternate")

	humaConfig := huma.DefaultConfig("GreenEduMap API", api.Version)
	humaConfig.Info.Description = "Map layers, features, search and live map sessions for the GreenEduMap dashboards."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, humastar.LinkTransformer(links))
	s.humaAPI = humago.New(s.mux, humaConfig)

	s.routes(renderer)

	s.handler = cors.New(cors.Options{
		AllowedOrigins: cfg.App.CORS,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Link"},
	}).Handler(s.mux)
	return s, nil
}

// source builds the domain data chain: Postgres for the tables it has, the
// HTTP backend for the rest, Redis in front of those, and placeholder data
// when they fail.
func (s *Server) source(ctx context.Context) source.Source {
	app := s.config.App
	placeholder := source.DefaultPlaceholder()

	var primary source.Source
	if app.Backend.URL != "" {
		h := source.NewHTTP(app.Backend.URL)
		h.Client.Timeout = app.Backend.Timeout
		primary = h
	}
	if app.Backend.DatabaseURL != "" {
		pg, err := source.OpenPostgres(ctx, app.Backend.DatabaseURL)
		if err != nil {
			s.log.Warn("postgres source unavailable", "error", err)
		} else {
			s.closers = append(s.closers, pg.Close)
			rest := primary
			if rest == nil {
				rest = placeholder
			}
			primary = source.NewRouter(rest).
				Route(feature.CategoryWard, pg).
				Route(feature.CategorySchool, pg)
		}
	}
	if primary == nil {
		s.log.Info("domain source ready", "source", placeholder.Name())
		return placeholder
	}

	var kv source.KV
	if client := source.OpenRedis(app.Redis.Addr, app.Redis.Password, app.Redis.DB); client != nil {
		if err := client.Ping(ctx).Err(); err != nil {
			s.log.Warn("redis cache unavailable", "addr", app.Redis.Addr, "error", err)
			client.Close()
		} else {
			s.closers = append(s.closers, func() { client.Close() })
			kv = source.RedisKV{Client: client}
		}
	}
	var fallback source.Source
	if app.Backend.Fallback {
		fallback = placeholder
	}
	src := source.Chain(primary, fallback, kv, app.Redis.TTL, s.log)
	s.log.Info("domain source ready", "source", src.Name())
	return src
}

// sinks returns the external publishers of the event bus.
func (s *Server) sinks() []events.Publisher {
	n := s.config.App.NATS
	if n.URL == "" {
		return nil
	}
	nc, err := events.ConnectNATS(events.NATSConfig{
		URL:            n.URL,
		SubjectPrefix:  n.SubjectPrefix,
		MaxReconnects:  n.MaxReconnects,
		ReconnectWait:  n.ReconnectWait,
		ConnectTimeout: n.ConnectTimeout,
	}, s.log)
	if err != nil {
		s.log.Warn("nats unavailable; events stay in-process", "url", n.URL, "error", err)
		return nil
	}
	s.closers = append(s.closers, nc.Close)
	return []events.Publisher{events.NewNATSPublisher(nc, n.SubjectPrefix, s.log)}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// OpenAPI returns the API description.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Warm loads the shared dashboard of every page so the first request and
// the record store have data.
func (s *Server) Warm(ctx context.Context) {
	m := s.services.Sessions
	for _, p := range m.Presets {
		d, err := m.Page(ctx, p.Page)
		if err != nil {
			s.log.Warn("page warm-up failed", "page", p.Page, "error", err)
			continue
		}
		s.log.Info("page loaded", "page", p.Page, "features", len(d.Features()))
	}
}

// Close unmounts every session and releases backends.
func (s *Server) Close() error {
	s.services.Sessions.CloseAll()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	return nil
}

func (s *Server) routes(renderer *templates.Renderer) {
	huma.AutoRegister(s.humaAPI, api.NewAPIHandler(s.services, humastar.Handler{Renderer: renderer}))

	s.mux.Handle("GET /metrics", metrics.Handler())

	static, _ := fs.Sub(webFS, "web/static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(static)))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
}

type indexData struct {
	Page   string
	Pages  []string
	HasMap bool
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{Page: api.DefaultPage, HasMap: s.config.App.HasMapCredential()}
	for _, p := range s.services.Sessions.Presets {
		data.Pages = append(data.Pages, p.Page)
	}
	if p := r.URL.Query().Get("page"); p != "" {
		if _, ok := layer.Find(s.services.Sessions.Presets, p); !ok {
			http.NotFound(w, r)
			return
		}
		data.Page = p
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.index.Execute(w, data); err != nil {
		s.log.Error("rendering index", "error", err)
	}
}
