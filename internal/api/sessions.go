package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/greenedumap/internal/dashboard"
	"github.com/joeblew999/greenedumap/internal/events"
	"github.com/joeblew999/greenedumap/internal/feature"
	"github.com/joeblew999/greenedumap/internal/humastar"
	"github.com/joeblew999/greenedumap/internal/mapengine/browser"
	"github.com/joeblew999/greenedumap/internal/mapsession"
	"github.com/joeblew999/greenedumap/internal/selection"
)

type SessionBody struct {
	ID      string                      `json:"id" doc:"Session ID"`
	Page    string                      `json:"page" doc:"Dashboard page"`
	Mounted bool                        `json:"mounted" doc:"Whether a map was created; false without a map credential"`
	State   string                      `json:"state" doc:"Map session state" enum:"unmounted,initializing,ready,disposed"`
	Summary []dashboard.CategorySummary `json:"summary,omitempty" doc:"Per-category load report"`
}

var (
	sessionDelete = humastar.ActionDef{Rel: "delete", Pattern: "/api/v1/sessions/%s", Method: http.MethodDelete, Title: "Close session"}
	sessionSearch = humastar.ActionDef{Rel: "search", Pattern: "/api/v1/sessions/%s/search", Method: http.MethodPost, Title: "Search and fly to a feature"}
	sessionClose  = humastar.ActionDef{Rel: "close-panel", Pattern: "/api/v1/sessions/%s/close", Method: http.MethodPost, Title: "Close the detail panel"}
	sessionStream = humastar.ActionDef{Rel: "stream", Pattern: "/api/v1/sessions/%s/stream", Method: http.MethodGet, Title: "Map commands and updates"}
	sessionLoaded = humastar.ActionDef{Rel: "loaded", Pattern: "/api/v1/sessions/%s/loaded", Method: http.MethodPost, Title: "Report map load"}
	sessionEvents = humastar.ActionDef{Rel: "events", Pattern: "/api/v1/sessions/%s/events", Method: http.MethodPost, Title: "Report pointer events"}
)

// Actions depend on the map state: a session without a map only searches
// and closes, and load is reported once.
func (b SessionBody) Actions() []humastar.Action {
	defs := []humastar.ActionDef{sessionDelete, sessionSearch, sessionClose}
	switch b.State {
	case mapsession.Initializing.String():
		defs = append(defs, sessionStream, sessionLoaded)
	case mapsession.Ready.String():
		defs = append(defs, sessionStream, sessionEvents)
	case mapsession.Disposed.String():
		return nil
	}
	return humastar.ActionsFor(b.ID, defs...)
}

type CreateSessionInput struct {
	Body struct {
		Page string `json:"page" default:"environment" doc:"Dashboard page" example:"environment"`
	}
}

type SessionOutput struct {
	Body SessionBody
}

type EventInput struct {
	SessionPath
	Body struct {
		Type  selection.EventType `json:"type" enum:"hover,click,leave" doc:"Pointer event type"`
		Layer string              `json:"layer" minLength:"1" doc:"Layer the event occurred on" example:"wards"`
		Key   string              `json:"key,omitempty" doc:"Feature key under the pointer" example:"ward:1"`
		X     float64             `json:"x,omitempty" doc:"Screen x in pixels"`
		Y     float64             `json:"y,omitempty" doc:"Screen y in pixels"`
	}
}

type EventBody struct {
	Delivered bool            `json:"delivered" doc:"Whether a handler was attached for the layer and event type"`
	Selection selection.State `json:"selection" doc:"Selection after the event"`
}

type SessionSignalsInput struct {
	SessionPath
	RawBody []byte
}

type HTMLOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// RegisterSessions registers the map session routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/api/v1/sessions",
		Summary:       "Open a map session",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusCreated,
	}, h.CreateSession)
	huma.Register(api, huma.Operation{
		OperationID:   "delete-session",
		Method:        http.MethodDelete,
		Path:          "/api/v1/sessions/{id}",
		Summary:       "Close a map session",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusNoContent,
	}, h.DeleteSession)
	huma.Get(api, "/api/v1/sessions/{id}/stream", h.StreamSession, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/sessions/{id}/loaded", h.MapLoaded, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/sessions/{id}/events", h.PointerEvent, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/sessions/{id}/search", h.SessionSearch, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/sessions/{id}/close", h.ClosePanel, huma.OperationTags("sessions"))
	huma.Get(api, "/api/v1/sessions/{id}/selection", h.GetSelection, huma.OperationTags("sessions"))
	huma.Get(api, "/api/v1/sessions/{id}/detail", h.GetDetail, huma.OperationTags("sessions"))
}

func sessionBody(d *dashboard.Dashboard) SessionBody {
	st := d.Controller().State()
	return SessionBody{
		ID:      d.ID(),
		Page:    d.Page(),
		Mounted: st == mapsession.Initializing || st == mapsession.Ready,
		State:   st.String(),
	}
}

func (h *APIHandler) CreateSession(ctx context.Context, input *CreateSessionInput) (*SessionOutput, error) {
	if h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("dashboards not available")
	}
	page := input.Body.Page
	if page == "" {
		page = DefaultPage
	}
	d, summary, _, err := h.svc.Sessions.Open(ctx, page)
	if err != nil {
		return nil, problem(err)
	}
	body := sessionBody(d)
	body.Summary = summary
	return &SessionOutput{Body: body}, nil
}

func (h *APIHandler) DeleteSession(ctx context.Context, input *SessionPath) (*struct{}, error) {
	if h.svc.Sessions == nil {
		return nil, huma.Error503ServiceUnavailable("dashboards not available")
	}
	if err := h.svc.Sessions.Close(input.ID); err != nil {
		return nil, problem(err)
	}
	return &struct{}{}, nil
}

func (h *APIHandler) engine(d *dashboard.Dashboard) (*browser.Engine, error) {
	if h.svc.Hub != nil {
		if e, ok := h.svc.Hub.Get(d.ID()); ok {
			return e, nil
		}
	}
	return nil, huma.Error409Conflict("session has no map")
}

// MapLoaded is called by the page once the map fired its load event.
func (h *APIHandler) MapLoaded(ctx context.Context, input *SessionPath) (*SessionOutput, error) {
	d, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	e, err := h.engine(d)
	if err != nil {
		return nil, err
	}
	e.Loaded()
	return &SessionOutput{Body: sessionBody(d)}, nil
}

// PointerEvent forwards a hover, click or leave from the page.
func (h *APIHandler) PointerEvent(ctx context.Context, input *EventInput) (*struct{ Body EventBody }, error) {
	d, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	e, err := h.engine(d)
	if err != nil {
		return nil, err
	}
	delivered := e.Deliver(input.Body.Type, input.Body.Layer, mapsession.PointerEvent{
		FeatureKey: input.Body.Key,
		Point:      selection.Point{X: input.Body.X, Y: input.Body.Y},
	})
	return &struct{ Body EventBody }{Body: EventBody{
		Delivered: delivered,
		Selection: d.Selection().State(),
	}}, nil
}

func (h *APIHandler) GetSelection(ctx context.Context, input *SessionPath) (*struct{ Body selection.State }, error) {
	d, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return &struct{ Body selection.State }{Body: d.Selection().State()}, nil
}

// GetDetail renders the detail panel of the selected feature.
func (h *APIHandler) GetDetail(ctx context.Context, input *SessionPath) (*HTMLOutput, error) {
	d, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	if h.Renderer == nil {
		return nil, huma.Error503ServiceUnavailable("templates not available")
	}
	html, err := h.Renderer.Detail(d.Selection().State().Selected)
	if err != nil {
		return nil, huma.Error500InternalServerError("rendering detail", err)
	}
	return &HTMLOutput{ContentType: "text/html; charset=utf-8", Body: []byte(html)}, nil
}

// SessionSearch flies the session's map to the first match of the "query"
// signal and reports the match back as signals.
func (h *APIHandler) SessionSearch(ctx context.Context, input *SessionSignalsInput) (*huma.StreamResponse, error) {
	d, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := humastar.ParseSignals(input.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid request data: " + err.Error())
	}
	query := signals.String("query")

	return h.Stream(func(_ huma.Context, sse humastar.SSE) {
		f, err := d.Search(query)
		if err != nil {
			sse.Error(err.Error())
			return
		}
		out := map[string]any{"query": query, "match": "", "miss": false}
		if f != nil {
			out["match"] = f.Name
		} else if query != "" {
			out["miss"] = true
		}
		sse.Signals(out)
	}), nil
}

// ClosePanel closes the detail panel and clears the selection.
func (h *APIHandler) ClosePanel(ctx context.Context, input *SessionPath) (*huma.StreamResponse, error) {
	d, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(_ huma.Context, sse humastar.SSE) {
		d.ClosePanel()
		h.patchDetail(sse, nil)
	}), nil
}

// StreamSession streams engine commands and selection updates of one
// session until the client goes away or the session is closed.
func (h *APIHandler) StreamSession(ctx context.Context, input *SessionPath) (*huma.StreamResponse, error) {
	d, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(humaCtx huma.Context, sse humastar.SSE) {
		if release, err := h.svc.Sessions.Attach(d.ID()); err == nil {
			defer release()
		}
		h.stream(humaCtx.Context(), d, sse)
	}), nil
}

func (h *APIHandler) stream(ctx context.Context, d *dashboard.Dashboard, sse humastar.SSE) {
	var (
		sub   *browser.Subscription
		ready <-chan struct{}
	)
	if e, err := h.engine(d); err == nil {
		sub = e.Subscribe()
		defer sub.Close()
		ready = sub.Ready()
	}

	var evs chan events.Event
	if h.svc.Bus != nil {
		evs = h.svc.Bus.Subscribe()
		defer h.svc.Bus.Unsubscribe(evs)
	}

	done := d.Done()
	sse.Signals(map[string]any{"session": d.ID(), "state": d.Controller().State().String()})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ready:
			cmds, closed := sub.Next()
			for _, c := range cmds {
				sse.Event("map-command", c)
			}
			if closed {
				// engine removed; its last commands were sent
				ready = nil
				if done == nil {
					return
				}
			}
		case ev, ok := <-evs:
			if !ok {
				evs = nil
				continue
			}
			if ev.Session != d.ID() {
				continue
			}
			h.forward(sse, d, ev)
		case <-done:
			if ready == nil {
				return
			}
			done = nil
		}
	}
}

func (h *APIHandler) forward(sse humastar.SSE, d *dashboard.Dashboard, ev events.Event) {
	switch ev.Kind {
	case events.KindSelection:
		st := d.Selection().State()
		h.patchDetail(sse, st.Selected)
		name := ""
		if st.Selected != nil {
			name = st.Selected.Name
		}
		sse.Signals(map[string]any{"panelOpen": st.PanelOpen, "selected": name})
	case events.KindInteraction:
		switch ev.Action {
		case string(selection.Hover):
			f, ok := d.Controller().Resolve(ev.Key)
			if !ok || h.Renderer == nil {
				return
			}
			html, err := h.Renderer.Popup(f)
			if err != nil {
				return
			}
			sse.Event("map-popup", map[string]any{
				"key": f.Key(), "lon": f.Longitude, "lat": f.Latitude, "html": html,
			})
		case string(selection.Leave):
			sse.Event("map-popup", map[string]any{"key": ""})
		}
	case events.KindLayers:
		sse.Signals(map[string]any{"layers": d.Registry().Snapshot()})
	}
}

func (h *APIHandler) patchDetail(sse humastar.SSE, f *feature.GeoFeature) {
	if h.Renderer == nil {
		return
	}
	html, err := h.Renderer.Detail(f)
	if err != nil {
		sse.Error(err.Error())
		return
	}
	sse.Replace(html, "#detail-panel")
}
