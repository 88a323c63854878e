// README: Pure geographic helpers used by the pending-request search.
package location

import (
	"math"

	"errand/internal/types"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometres between two points.
func HaversineKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// PlanarDistanceSq is an equirectangular approximation of the squared
// distance from centre to p, in degrees of latitude. It orders points the
// way HaversineKm does at city scale and is cheap enough for ORDER BY.
func PlanarDistanceSq(centre, p types.Point) float64 {
	dLat := p.Lat - centre.Lat
	dLng := (p.Lng - centre.Lng) * LngScale(centre.Lat)
	return dLat*dLat + dLng*dLng
}

// LngScale is the length of a degree of longitude relative to one of latitude.
func LngScale(lat float64) float64 {
	return math.Cos(degreesToRadians(lat))
}

// Box is a lat/lng rectangle that contains every point within a radius of its centre.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// BoundingBox over-approximates the circle of radiusKm around p. It is a
// coarse SQL pre-filter; HaversineKm decides membership.
func BoundingBox(p types.Point, radiusKm float64) Box {
	dLat := radiusKm / earthRadiusKm * 180 / math.Pi
	cosLat := math.Cos(degreesToRadians(p.Lat))
	dLng := 180.0
	if cosLat > 1e-9 {
		dLng = math.Min(180, dLat/cosLat)
	}
	return Box{
		MinLat: math.Max(-90, p.Lat-dLat),
		MaxLat: math.Min(90, p.Lat+dLat),
		MinLng: p.Lng - dLng,
		MaxLng: p.Lng + dLng,
	}
}

func (b Box) Contains(p types.Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// ValidPoint reports whether p is a real coordinate.
func ValidPoint(p types.Point) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180 && !(p.Lat == 0 && p.Lng == 0)
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// SortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
