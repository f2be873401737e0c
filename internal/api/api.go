// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/greenedumap/internal/dashboard"
	"github.com/joeblew999/greenedumap/internal/db"
	"github.com/joeblew999/greenedumap/internal/events"
	"github.com/joeblew999/greenedumap/internal/humastar"
	"github.com/joeblew999/greenedumap/internal/layer"
	"github.com/joeblew999/greenedumap/internal/mapengine/browser"
	"github.com/joeblew999/greenedumap/internal/mapsession"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.3.0"

// DefaultPage is the page of the plain REST endpoints when none is given.
const DefaultPage = "environment"

// Services holds the dependencies of the API handlers.
type Services struct {
	Sessions *dashboard.Manager
	Hub      *browser.Hub
	Store    *db.Store
	Bus      *events.Bus
	DataDir  string
}

// Types

type PageQuery struct {
	Page string `query:"page" default:"environment" doc:"Dashboard page" example:"relief"`
}

type SessionPath struct {
	ID string `path:"id" doc:"Session ID" example:"5f0c3c1e-4c55-4c55-9a0e-2f3f4c9b6d1a"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.3.0"`
}

type InfoBody struct {
	Name          string   `json:"name" doc:"Service name"`
	Version       string   `json:"version" doc:"Service version"`
	DataDir       string   `json:"data_dir,omitempty" doc:"Data directory path"`
	DB            bool     `json:"db" doc:"Whether the record store is available"`
	MapCredential bool     `json:"map_credential" doc:"Whether a usable map access token is configured"`
	Pages         []string `json:"pages" doc:"Dashboard pages"`
	Sessions      int      `json:"sessions" doc:"Live map sessions"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	humastar.Handler
	svc *Services
}

func NewAPIHandler(svc *Services, h humastar.Handler) *APIHandler {
	return &APIHandler{Handler: h, svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags("health"))
}

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	body := InfoBody{
		Name:    "greenmap",
		Version: Version,
		DataDir: h.svc.DataDir,
		DB:      h.svc.Store != nil,
		Pages:   []string{},
	}
	if m := h.svc.Sessions; m != nil {
		body.MapCredential = mapsession.HasCredential(m.Map.AccessToken)
		body.Sessions = m.Len()
		for _, p := range m.Presets {
			body.Pages = append(body.Pages, p.Page)
		}
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}

// page returns the shared dashboard behind the plain REST endpoints.
func (h *APIHandler) page(ctx context.Context, name string) (*dashboard.Dashboard, error) {
	if h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("dashboards not available")
	}
	if name == "" {
		name = DefaultPage
	}
	d, err := h.svc.Sessions.Page(ctx, name)
	if err != nil {
		return nil, problem(err)
	}
	return d, nil
}

func (h *APIHandler) session(id string) (*dashboard.Dashboard, error) {
	if h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("dashboards not available")
	}
	d, err := h.svc.Sessions.Get(id)
	if err != nil {
		return nil, problem(err)
	}
	return d, nil
}

func (h *APIHandler) presets() []layer.Preset {
	if h.svc.Sessions == nil {
		return nil
	}
	return h.svc.Sessions.Presets
}

// problem maps domain errors to Huma problem responses.
func problem(err error) error {
	switch {
	case errors.Is(err, dashboard.ErrUnknownPage), errors.Is(err, dashboard.ErrUnknownSession):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, mapsession.ErrNoCredential):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, mapsession.ErrDisposed):
		return huma.Error410Gone(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("request canceled", err)
	}
	return huma.Error500InternalServerError("internal error", err)
}
