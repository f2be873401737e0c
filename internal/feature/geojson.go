package feature

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Point returns the feature location as an orb point (lon, lat).
func (f GeoFeature) Point() orb.Point {
	return orb.Point{f.Longitude, f.Latitude}
}

// GeoJSON converts a feature to a GeoJSON point feature. Metrics and
// attributes are flattened into properties so engine paint expressions can
// read them directly; "key" is what pointer events are resolved by.
func (f GeoFeature) GeoJSON() *geojson.Feature {
	gf := geojson.NewFeature(f.Point())
	gf.ID = f.ID
	for k, v := range f.Attributes {
		gf.Properties[k] = v
	}
	for k, v := range f.Metrics {
		gf.Properties[k] = v
	}
	gf.Properties["id"] = f.ID
	gf.Properties["key"] = f.Key()
	gf.Properties["name"] = f.Name
	gf.Properties["category"] = string(f.Category)
	return gf
}

// FeatureCollection builds a GeoJSON collection from features, keeping order.
func FeatureCollection(features []GeoFeature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f.GeoJSON())
	}
	return fc
}

// FeatureCollection builds the GeoJSON collection of the batch.
func (b Batch) FeatureCollection() *geojson.FeatureCollection {
	return FeatureCollection(b.Features)
}

// Bound returns the bounding box of all features. ok is false when there
// are none.
func Bound(features []GeoFeature) (bound orb.Bound, ok bool) {
	if len(features) == 0 {
		return orb.Bound{}, false
	}
	bound = features[0].Point().Bound()
	for _, f := range features[1:] {
		bound = bound.Extend(f.Point())
	}
	return bound, true
}

// Centroid returns the arithmetic mean of the feature locations.
func Centroid(features []GeoFeature) (orb.Point, bool) {
	if len(features) == 0 {
		return orb.Point{}, false
	}
	var lon, lat float64
	for _, f := range features {
		lon += f.Longitude
		lat += f.Latitude
	}
	n := float64(len(features))
	return orb.Point{lon / n, lat / n}, true
}

// Filter returns features of the given category; an empty category keeps
// all of them.
func Filter(features []GeoFeature, category Category) []GeoFeature {
	if category == "" {
		return features
	}
	var out []GeoFeature
	for _, f := range features {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}
