package mapsession

import (
	"context"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/greenedumap/internal/layer"
	"github.com/joeblew999/greenedumap/internal/selection"
)

// Camera is a map viewpoint.
type Camera struct {
	Center  orb.Point `json:"center" doc:"[lon, lat]"`
	Zoom    float64   `json:"zoom"`
	Pitch   float64   `json:"pitch"`
	Bearing float64   `json:"bearing"`
}

// CameraMove is an animated transition to a new center and zoom.
type CameraMove struct {
	Center   orb.Point
	Zoom     float64
	Duration time.Duration
}

// FitOptions controls a fit-to-bounds transition.
type FitOptions struct {
	Padding  float64
	MaxZoom  float64
	Duration time.Duration
}

// LayerSpec is what the engine needs to draw one layer.
type LayerSpec struct {
	layer.Descriptor
	Source string `json:"source"`
}

// PointerEvent is the engine payload of a hover, click or leave.
// FeatureKey is the "key" property of the GeoJSON feature under the pointer.
type PointerEvent struct {
	FeatureKey string
	Point      selection.Point
}

// Handler receives pointer events for one layer.
type Handler func(PointerEvent)

// Engine is the capability surface of a vector map SDK instance.
//
// Implementations must not invoke callbacks (load or pointer handlers)
// synchronously from inside another Engine method.
type Engine interface {
	AddSource(id string, data *geojson.FeatureCollection) error
	SetSourceData(id string, data *geojson.FeatureCollection) error
	RemoveSource(id string) error

	AddLayer(spec LayerSpec) error
	UpdateLayer(spec LayerSpec) error
	RemoveLayer(id string) error

	// On attaches a handler for events on a layer and returns a detach func.
	On(event selection.EventType, layerID string, h Handler) (off func())
	// OnLoad registers the callback fired once the map finished loading.
	OnLoad(fn func())

	FlyTo(move CameraMove) error
	FitBounds(b orb.Bound, opts FitOptions) error
	AddImage(name, url string) error

	// Remove releases the map instance.
	Remove() error
}

// Options are passed to a Factory when a map is created.
type Options struct {
	Container   string
	Camera      Camera
	AccessToken string
	Style       string
}

// Factory creates a map instance (createMap).
type Factory func(ctx context.Context, opts Options) (Engine, error)
