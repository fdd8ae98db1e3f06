// Package geo maps GPS fixes onto the track milepost frame and measures
// distances along the track.
package geo

import (
	"math"
	"slices"

	"github.com/paulmach/orb"
	"proximity-service/internal/models"
)

// EarthRadiusMiles is the sphere radius used by every haversine computation.
const EarthRadiusMiles = 3959.0

// Method records how a milepost or distance was obtained.
type Method string

const (
	MethodExact        Method = "exact"
	MethodInterpolated Method = "interpolated"
	MethodClosest      Method = "closest"
	MethodTrack        Method = "track"
	MethodStraightLine Method = "straight-line"
)

// GPSDistance is the great-circle distance in miles between two WGS84 coordinates.
func GPSDistance(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	dφ := (lat2 - lat1) * math.Pi / 180
	dλ := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dφ/2)*math.Sin(dφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMiles * c
}

// Distance is GPSDistance for orb points (lon, lat).
func Distance(a, b orb.Point) float64 {
	return GPSDistance(a.Lat(), a.Lon(), b.Lat(), b.Lon())
}

// Round2 rounds to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// TrackDistance sums the haversine lengths between consecutive geometry
// points whose mileposts lie within [min(mp1,mp2), max(mp1,mp2)]. With fewer
// than two such points it degrades to the absolute milepost difference.
func TrackDistance(mp1, mp2 float64, geometry []models.GeometryPoint) (float64, Method) {
	start, end := min(mp1, mp2), max(mp1, mp2)

	var inRange []models.GeometryPoint
	for _, p := range geometry {
		if p.Milepost >= start && p.Milepost <= end {
			inRange = append(inRange, p)
		}
	}
	if len(inRange) < 2 {
		return Round2(end - start), MethodStraightLine
	}

	slices.SortFunc(inRange, func(a, b models.GeometryPoint) int {
		switch {
		case a.Milepost < b.Milepost:
			return -1
		case a.Milepost > b.Milepost:
			return 1
		}
		return 0
	})

	total := 0.0
	for i := 1; i < len(inRange); i++ {
		total += Distance(inRange[i-1].Point(), inRange[i].Point())
	}
	return Round2(total), MethodTrack
}
