package geotrack

import "math"

const earthRadiusM = 6371000.0

// HaversineDistance calculates the distance in meters between two
// geographic coordinates using the Haversine formula.
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	// Convert degrees to radians
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180

	// Haversine formula
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// CumulativeDistance returns the length in meters of the path through points,
// in the order given. Fewer than two points yield 0.
func CumulativeDistance(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}

	var total float64
	for i := 1; i < len(points); i++ {
		prev, curr := points[i-1], points[i]
		total += HaversineDistance(prev.Lat, prev.Lng, curr.Lat, curr.Lng)
	}
	return total
}
