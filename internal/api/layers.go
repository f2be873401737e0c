package api

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/greenedumap/internal/feature"
	"github.com/joeblew999/greenedumap/internal/layer"
	"github.com/joeblew999/greenedumap/internal/legend"
	"github.com/joeblew999/greenedumap/internal/search"
)

type LayersOutput struct {
	Body []layer.Descriptor
}

type VisibleBody struct {
	ID     string             `json:"id" doc:"Requested layer ID"`
	Known  bool               `json:"known" doc:"Whether the layer is registered; toggling an unknown layer changes nothing"`
	Layers []layer.Descriptor `json:"layers" doc:"Layers after the toggle"`
}

type VisibleInput struct {
	PageQuery
	ID   string `path:"id" doc:"Layer ID" example:"wards"`
	Body struct {
		Visible bool `json:"visible" doc:"Show or hide the layer"`
	}
}

type MetricInput struct {
	PageQuery
	Body struct {
		Metric string `json:"metric" minLength:"1" doc:"Metric key" example:"pm25"`
	}
}

type MetricBody struct {
	Metric  string             `json:"metric" doc:"Requested metric key"`
	Changed bool               `json:"changed" doc:"Whether any layer switched; false when no feature carries the metric"`
	Layers  []layer.Descriptor `json:"layers" doc:"Layers after the switch"`
}

type FeaturesInput struct {
	PageQuery
	Category string `query:"category" enum:"ward,school,solar,request,center,distribution" doc:"Only features of this category"`
}

type FeaturesOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type SearchInput struct {
	PageQuery
	Q string `query:"q" doc:"Name, district, ward, address or resource; case and diacritics are ignored" example:"ben nghe"`
}

type SearchBody struct {
	Query string              `json:"query" doc:"Query as received"`
	Match *feature.GeoFeature `json:"match,omitempty" doc:"First matching feature in load order"`
}

type LegendInput struct {
	PageQuery
	Metric string `path:"metric" doc:"Metric key" example:"aqi"`
}

type LegendBody struct {
	Metric string        `json:"metric" doc:"Metric key"`
	Stops  []legend.Stop `json:"stops" doc:"Ascending color stops; empty when no feature carries the metric"`
}

// RegisterLayers registers layer, feature and legend routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Put(api, "/api/v1/layers/{id}/visible", h.PutVisible, huma.OperationTags("layers"))
	huma.Put(api, "/api/v1/layers/metric", h.PutMetric, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/presets", h.GetPresets, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/features", h.GetFeatures, huma.OperationTags("features"))
	huma.Get(api, "/api/v1/search", h.Search, huma.OperationTags("features"))
	huma.Get(api, "/api/v1/legend/{metric}", h.GetLegend, huma.OperationTags("features"))
}

func (h *APIHandler) GetLayers(ctx context.Context, input *PageQuery) (*LayersOutput, error) {
	d, err := h.page(ctx, input.Page)
	if err != nil {
		return nil, err
	}
	return &LayersOutput{Body: d.Registry().Snapshot()}, nil
}

// PutVisible shows or hides a layer. An unknown id is a no-op so toggles
// may race with layer registration.
func (h *APIHandler) PutVisible(ctx context.Context, input *VisibleInput) (*struct{ Body VisibleBody }, error) {
	d, err := h.page(ctx, input.Page)
	if err != nil {
		return nil, err
	}
	d.SetVisible(input.ID, input.Body.Visible)
	_, known := d.Registry().Get(input.ID)
	return &struct{ Body VisibleBody }{Body: VisibleBody{
		ID:     input.ID,
		Known:  known,
		Layers: d.Registry().Snapshot(),
	}}, nil
}

func (h *APIHandler) PutMetric(ctx context.Context, input *MetricInput) (*struct{ Body MetricBody }, error) {
	d, err := h.page(ctx, input.Page)
	if err != nil {
		return nil, err
	}
	changed := d.SetActiveMetric(input.Body.Metric)
	return &struct{ Body MetricBody }{Body: MetricBody{
		Metric:  input.Body.Metric,
		Changed: changed,
		Layers:  d.Registry().Snapshot(),
	}}, nil
}

func (h *APIHandler) GetPresets(ctx context.Context, input *struct{}) (*struct{ Body []layer.Preset }, error) {
	presets := h.presets()
	if presets == nil {
		presets = []layer.Preset{}
	}
	return &struct{ Body []layer.Preset }{Body: presets}, nil
}

func (h *APIHandler) GetFeatures(ctx context.Context, input *FeaturesInput) (*FeaturesOutput, error) {
	d, err := h.page(ctx, input.Page)
	if err != nil {
		return nil, err
	}
	features := d.Features()
	if input.Category != "" {
		var only []feature.GeoFeature
		for _, f := range features {
			if string(f.Category) == input.Category {
				only = append(only, f)
			}
		}
		features = only
	}
	body, err := json.Marshal(feature.FeatureCollection(features))
	if err != nil {
		return nil, huma.Error500InternalServerError("encoding features", err)
	}
	return &FeaturesOutput{ContentType: "application/geo+json", Body: body}, nil
}

func (h *APIHandler) Search(ctx context.Context, input *SearchInput) (*struct{ Body SearchBody }, error) {
	d, err := h.page(ctx, input.Page)
	if err != nil {
		return nil, err
	}
	body := SearchBody{Query: input.Q}
	if strings.TrimSpace(input.Q) != "" {
		body.Match = search.Search(input.Q, d.Features())
	}
	return &struct{ Body SearchBody }{Body: body}, nil
}

func (h *APIHandler) GetLegend(ctx context.Context, input *LegendInput) (*struct{ Body LegendBody }, error) {
	d, err := h.page(ctx, input.Page)
	if err != nil {
		return nil, err
	}
	stops := d.Legend(input.Metric)
	if stops == nil {
		stops = []legend.Stop{}
	}
	return &struct{ Body LegendBody }{Body: LegendBody{Metric: input.Metric, Stops: stops}}, nil
}
