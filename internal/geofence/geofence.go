package geofence

import (
	"errors"
	"fmt"
	"math"
)

// earthRadiusMeters is the mean Earth radius used for great-circle distance.
const earthRadiusMeters = 6371000

// DefaultRadiusMeters applies when a school has a center but no radius.
const DefaultRadiusMeters = 100

// ErrInvalidCoordinate reports a non-finite or out-of-range latitude/longitude.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Config is a school's circular boundary. Read-only to this package.
type Config struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
}

// Point is one reported position.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Result is the outcome of evaluating a point against a boundary.
type Result struct {
	DistanceMeters float64
	IsWithin       bool
}

// Evaluate computes the haversine distance from the boundary center to the
// point and whether the point falls inside the radius. The boundary is
// inclusive: a point exactly on the radius counts as within.
func Evaluate(cfg Config, pt Point) (Result, error) {
	if err := validate(cfg.Latitude, cfg.Longitude); err != nil {
		return Result{}, fmt.Errorf("center: %w", err)
	}
	if err := validate(pt.Latitude, pt.Longitude); err != nil {
		return Result{}, fmt.Errorf("point: %w", err)
	}

	radius := cfg.RadiusMeters
	if radius <= 0 {
		radius = DefaultRadiusMeters
	}

	dist := Distance(cfg.Latitude, cfg.Longitude, pt.Latitude, pt.Longitude)
	return Result{
		DistanceMeters: dist,
		IsWithin:       dist <= radius,
	}, nil
}

// Distance returns the great-circle distance in meters between two
// latitude/longitude pairs given in degrees.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// ValidatePoint rejects non-finite or out-of-range coordinates. Callers that
// skip boundary evaluation (no geofence configured) still validate input.
func ValidatePoint(pt Point) error {
	return validate(pt.Latitude, pt.Longitude)
}

func validate(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lng) || math.IsInf(lng, 0) {
		return ErrInvalidCoordinate
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, lat)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, lng)
	}
	return nil
}
