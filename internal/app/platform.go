package app

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Location is a WGS84 coordinate pair.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PlatformAuth abstracts the host platform's one-time login code. The
// callback style of the underlying platform API never leaks past this
// boundary; callers always get a plain awaitable result.
type PlatformAuth interface {
	LoginCode(ctx context.Context) (string, error)
}

// PlatformLocation yields the current location. Implementations may fail;
// dependent calls degrade instead of aborting.
type PlatformLocation interface {
	Current(ctx context.Context) (*Location, error)
}

// StaticAuth serves a pre-provisioned login code from config.
type StaticAuth struct {
	Code string
}

func (a StaticAuth) LoginCode(ctx context.Context) (string, error) {
	if a.Code == "" {
		return "", errors.New("no login code configured")
	}
	return a.Code, nil
}

// StaticLocation serves a fixed coordinate from config, or an error when
// none is configured.
type StaticLocation struct {
	Loc *Location
}

func (l StaticLocation) Current(ctx context.Context) (*Location, error) {
	if l.Loc == nil {
		return nil, errors.New("no location configured")
	}
	return l.Loc, nil
}

const (
	earthRadiusM        = 6371000
	distancePlaceholder = "距离未知"
)

// FormatDistance renders the distance between two points for display, in
// meters below one kilometer and kilometers with one decimal above.
func FormatDistance(from, to *Location) string {
	if from == nil || to == nil {
		return distancePlaceholder
	}
	m := haversineMeters(*from, *to)
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return distancePlaceholder
	}
	if m < 1000 {
		return fmt.Sprintf("%.0fm", m)
	}
	return fmt.Sprintf("%.1fkm", m/1000)
}

func haversineMeters(a, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}
