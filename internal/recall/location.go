package recall

import "math"

const earthRadiusKm = 6371.0

// Location is where the recalled product's firm is registered. Coordinates
// are absent for nearly all records; the feed carries no geocoding.
type Location struct {
	City      string   `json:"city"`
	District  *string  `json:"district,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Equal compares all four fields structurally.
func (l Location) Equal(o Location) bool {
	return l.City == o.City &&
		eqPtr(l.District, o.District) &&
		eqPtr(l.Latitude, o.Latitude) &&
		eqPtr(l.Longitude, o.Longitude)
}

// HasCoordinates reports whether both latitude and longitude are known.
func (l Location) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// DistanceKm returns the great-circle distance to (lat, lon). ok is false
// when the location has no coordinates.
func (l Location) DistanceKm(lat, lon float64) (km float64, ok bool) {
	if !l.HasCoordinates() {
		return 0, false
	}
	return haversineKm(*l.Latitude, *l.Longitude, lat, lon), true
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func eqPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
