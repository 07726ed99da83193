package domain

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// Validate reports ErrInvalidCoordinates when the point is outside
// lat [-90,90] / lon [-180,180] or is not a finite number.
func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
		return fmt.Errorf("%w: non-finite value (%v, %v)", ErrInvalidCoordinates, p.Lat, p.Lon)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinates, p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinates, p.Lon)
	}
	return nil
}

// DistanceKm returns the haversine great-circle distance between two points.
func DistanceKm(a, b GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BoundingBox is a lat/lon rectangle used to prefilter candidates before the
// exact haversine check.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// BoundsAround returns a box that fully contains the circle of radiusKm around p.
// Near the poles or the antimeridian the longitude range widens to the full circle.
func BoundsAround(p GeoPoint, radiusKm float64) BoundingBox {
	dLat := radiusKm / EarthRadiusKm * 180 / math.Pi
	box := BoundingBox{
		MinLat: math.Max(-90, p.Lat-dLat),
		MaxLat: math.Min(90, p.Lat+dLat),
		MinLon: -180,
		MaxLon: 180,
	}

	// Widest longitude offset of the circle, in degrees.
	ratio := math.Sin(radiusKm/EarthRadiusKm) / math.Cos(p.Lat*math.Pi/180)
	if ratio >= 1 || box.MinLat == -90 || box.MaxLat == 90 {
		return box
	}
	dLon := math.Asin(ratio) * 180 / math.Pi
	if p.Lon-dLon < -180 || p.Lon+dLon > 180 {
		return box
	}
	box.MinLon = p.Lon - dLon
	box.MaxLon = p.Lon + dLon
	return box
}

// Contains reports whether p falls inside the box.
func (b BoundingBox) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}
