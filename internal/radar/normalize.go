package radar

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Reflectivity bounds in dBZ. Values outside this window are decoder noise
// or missing-data sentinels.
const (
	MinReflectivity = -10.0
	MaxReflectivity = 75.0

	reflectivityProperty = "reflectivity"
)

// NormalizeFeatures returns a new collection with out-of-range reflectivity
// points removed and longitudes wrapped into [-180, 180]. Features without a
// point geometry or a numeric reflectivity are kept unchanged. The input is
// not modified.
func NormalizeFeatures(fc *geojson.FeatureCollection) *geojson.FeatureCollection {
	if fc == nil {
		return &geojson.FeatureCollection{}
	}

	out := &geojson.FeatureCollection{
		BBox:     fc.BBox,
		Features: make([]*geojson.Feature, 0, len(fc.Features)),
	}

	for _, f := range fc.Features {
		if f == nil {
			continue
		}

		if v, ok := reflectivity(f); ok && (v < MinReflectivity || v > MaxReflectivity) {
			continue
		}

		pt, ok := f.Geometry.(*geom.Point)
		if !ok || pt.Empty() || pt.X() <= 180 {
			out.Features = append(out.Features, f)
			continue
		}

		// Copy every ordinate so Z and M survive; only X changes.
		coords := append([]float64(nil), pt.FlatCoords()...)
		coords[0] -= 360

		wrapped := *f
		wrapped.Geometry = geom.NewPointFlat(pt.Layout(), coords).SetSRID(pt.SRID())
		out.Features = append(out.Features, &wrapped)
	}

	return out
}

func reflectivity(f *geojson.Feature) (float64, bool) {
	raw, ok := f.Properties[reflectivityProperty]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
