package domain

import (
	"context"
	"log/slog"
)

// EnrichWithRegion fills a bundle's missing region name by reverse geocoding its
// GPS point. If geocoder is nil, the point is absent or invalid, or geocoding
// fails, the bundle is returned unchanged (graceful degradation).
func EnrichWithRegion(ctx context.Context, bundle EvidenceBundle, geocoder Geocoder, logger *slog.Logger) EvidenceBundle {
	if geocoder == nil || bundle.Region != "" || bundle.Point == nil {
		return bundle
	}
	if err := bundle.Point.Validate(); err != nil {
		return bundle
	}

	place, err := geocoder.ReverseGeocode(ctx, bundle.Point.Lat, bundle.Point.Lon)
	if err != nil {
		logger.Warn("reverse geocoding failed",
			"submission_id", bundle.SubmissionID,
			"lat", bundle.Point.Lat,
			"lon", bundle.Point.Lon,
			"error", err,
		)
		return bundle
	}
	if place.Region != "" {
		bundle.Region = place.Region
	}
	return bundle
}

// ResolveTarget returns coordinates for a location that only carries a region
// name, using forward geocoding. ok is false when nothing could be resolved.
func ResolveTarget(ctx context.Context, loc TargetLocation, geocoder Geocoder, logger *slog.Logger) (GeoPoint, bool) {
	if loc.Point != nil {
		return *loc.Point, true
	}
	if geocoder == nil || loc.Region == "" {
		return GeoPoint{}, false
	}

	place, err := geocoder.ForwardGeocode(ctx, loc.Region)
	if err != nil {
		logger.Warn("forward geocoding failed", "region", loc.Region, "error", err)
		return GeoPoint{}, false
	}
	if place.FormattedAddress == "" || place.Point.Validate() != nil {
		return GeoPoint{}, false
	}
	return place.Point, true
}
