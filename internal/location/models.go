// Package location maps coordinates and third-party location codes to
// canonical locations.
package location

import (
	"errors"
	"time"

	"github.com/golang/geo/r2"
)

var (
	ErrLocationNotFound = errors.New("location not found")
	ErrAliasNotFound    = errors.New("location alias not found")

	// ErrMissingLocationData is returned when a query has no coordinates
	// and its code does not resolve. Batch callers skip the entry.
	ErrMissingLocationData = errors.New("missing location data")
)

// Location is a canonical geographic point. It is never updated once created.
type Location struct {
	ID        int64
	Longitude float64
	Latitude  float64
	CreatedAt time.Time
}

// Point returns the location in (lon, lat) space.
func (l Location) Point() r2.Point {
	return r2.Point{X: l.Longitude, Y: l.Latitude}
}

// Alias maps an external location code (a ward code) to a Location.
type Alias struct {
	ID         int64
	Code       string
	LocationID int64
	CreatedAt  time.Time
}

// Ward is an administrative ward with its representative location.
type Ward struct {
	ID           int64
	Code         string
	Name         string
	DistrictCode string
	LocationID   int64
}

// distance is the Euclidean distance in (lon, lat) degrees.
func distance(a, b r2.Point) float64 {
	return a.Sub(b).Norm()
}

// searchBox is the open square of half-side threshold around p.
func searchBox(p r2.Point, threshold float64) r2.Rect {
	return r2.RectFromCenterSize(p, r2.Point{X: 2 * threshold, Y: 2 * threshold})
}

// within reports whether candidate is strictly inside the search box of
// center and closer than threshold.
func within(center, candidate r2.Point, threshold float64) bool {
	box := searchBox(center, threshold)
	if !box.InteriorContainsPoint(candidate) {
		return false
	}
	return distance(center, candidate) < threshold
}
