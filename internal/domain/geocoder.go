package domain

import "context"

// Place contains location data returned by a geocoding provider.
type Place struct {
	Point            GeoPoint
	FormattedAddress string
	Region           string
	Confidence       float64 // 0.0–1.0 provider confidence score
}

// Geocoder resolves between textual regions and coordinates.
type Geocoder interface {
	// ForwardGeocode converts a region name to coordinates.
	ForwardGeocode(ctx context.Context, region string) (Place, error)

	// ReverseGeocode converts coordinates to a region name.
	ReverseGeocode(ctx context.Context, lat, lon float64) (Place, error)
}
