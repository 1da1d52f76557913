// Package geometry renders the location hierarchy as GeoJSON.
package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"hompare/internal/models"
)

// CityMarkers returns one point feature per city with a configured center. The
// collection carries the bounding box of every marker so maps can fit it.
func CityMarkers(cities []models.City) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	var points orb.MultiPoint

	for _, city := range cities {
		center, ok := city.Center()
		if !ok {
			continue
		}
		feature := geojson.NewFeature(center)
		feature.ID = city.ID
		feature.Properties["name"] = city.Name
		feature.Properties["has_areas"] = city.HasAreas
		fc.Append(feature)
		points = append(points, center)
	}

	if len(points) > 0 {
		fc.BBox = geojson.NewBBox(points.Bound())
	}
	return fc
}
