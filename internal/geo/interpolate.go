package geo

import (
	"slices"

	"proximity-service/internal/errs"
	"proximity-service/internal/models"
)

const (
	// ExactToleranceMiles snaps a fix to a surveyed point's milepost.
	ExactToleranceMiles = 0.01
	// NearestCandidates is how many nearest points are considered.
	NearestCandidates = 10
)

// Interpolation is the estimated milepost for a GPS fix.
type Interpolation struct {
	Milepost        float64         `json:"milepost"`
	DistanceToTrack float64         `json:"distance"`
	Method          Method          `json:"method"`
	Track           models.TrackRef `json:"track"`
}

type candidate struct {
	point    models.GeometryPoint
	distance float64
}

// Nearest returns up to n geometry points ordered by ascending distance from (lat, lon).
func Nearest(points []models.GeometryPoint, lat, lon float64, n int) []models.GeometryPoint {
	cands := nearest(points, lat, lon, n)
	out := make([]models.GeometryPoint, len(cands))
	for i, c := range cands {
		out[i] = c.point
	}
	return out
}

func nearest(points []models.GeometryPoint, lat, lon float64, n int) []candidate {
	cands := make([]candidate, 0, len(points))
	for _, p := range points {
		cands = append(cands, candidate{point: p, distance: GPSDistance(lat, lon, p.Latitude, p.Longitude)})
	}
	slices.SortStableFunc(cands, func(a, b candidate) int {
		switch {
		case a.distance < b.distance:
			return -1
		case a.distance > b.distance:
			return 1
		}
		return 0
	})
	if len(cands) > n {
		cands = cands[:n]
	}
	return cands
}

// Interpolate estimates the milepost of (lat, lon) from surveyed points.
//
// A fix within ExactToleranceMiles of its nearest point takes that point's
// milepost. Otherwise the two nearest points are blended by inverse distance
// weighting. A single point is used as-is.
func Interpolate(points []models.GeometryPoint, lat, lon float64) (Interpolation, error) {
	if err := models.ValidateCoordinates(lat, lon); err != nil {
		return Interpolation{}, err
	}
	cands := nearest(points, lat, lon, NearestCandidates)
	if len(cands) == 0 {
		return Interpolation{}, errs.New(errs.KindNotFound, "geo.interpolate", "no geometry available")
	}

	first := cands[0]
	result := Interpolation{
		DistanceToTrack: Round2(first.distance),
		Track:           first.point.TrackRef,
	}

	switch {
	case first.distance <= ExactToleranceMiles:
		result.Milepost = first.point.Milepost
		result.Method = MethodExact
	case len(cands) < 2:
		result.Milepost = first.point.Milepost
		result.Method = MethodClosest
	default:
		second := cands[1]
		w1, w2 := 1/first.distance, 1/second.distance
		result.Milepost = Round2((first.point.Milepost*w1 + second.point.Milepost*w2) / (w1 + w2))
		result.Method = MethodInterpolated
	}
	return result, nil
}
