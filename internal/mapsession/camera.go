package mapsession

import (
	"github.com/paulmach/orb"

	"github.com/joeblew999/greenedumap/internal/feature"
)

// DefaultStyle is the map style used when none is configured.
const DefaultStyle = "mapbox://styles/mapbox/streets-v12"

// DefaultCamera frames southern Vietnam around Ho Chi Minh City.
var DefaultCamera = Camera{
	Center:  orb.Point{106.6297, 10.8231},
	Zoom:    6,
	Pitch:   35,
	Bearing: -15,
}

// InitialCamera picks the opening viewpoint for a feature set: the fallback
// when empty, the single feature at zoom 10, otherwise the centroid at
// zoom 7. Pitch and bearing come from the fallback.
func InitialCamera(features []feature.GeoFeature, fallback Camera) Camera {
	cam := fallback
	switch len(features) {
	case 0:
	case 1:
		cam.Center = features[0].Point()
		cam.Zoom = 10
	default:
		c, _ := feature.Centroid(features)
		cam.Center = c
		cam.Zoom = 7
	}
	return cam
}
