package geo

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"proximity-service/internal/cache"
	"proximity-service/internal/errs"
	"proximity-service/internal/logging"
	"proximity-service/internal/models"
)

// GeometryStore supplies ordered milepost geometry. Empty TrackType or
// TrackNumber in ref match every track of the subdivision.
type GeometryStore interface {
	GetGeometry(ctx context.Context, ref models.TrackRef) ([]models.GeometryPoint, error)
}

// DistanceResult is the along-track distance between two GPS positions.
type DistanceResult struct {
	Distance  float64  `json:"distance"`
	Method    Method   `json:"method"`
	Milepost1 *float64 `json:"milepost1,omitempty"`
	Milepost2 *float64 `json:"milepost2,omitempty"`
}

// Service resolves geometry through a TTL cache and exposes the interpolation
// and distance algorithms over it.
type Service struct {
	store  GeometryStore
	cache  *cache.Cache[models.TrackRef, []models.GeometryPoint]
	logger *logging.Logger
}

// NewService constructs a geometry Service. Geometry is static reference
// data, so the cache only needs to bound memory and pick up re-imports.
func NewService(store GeometryStore, c *cache.Cache[models.TrackRef, []models.GeometryPoint], logger *logging.Logger) *Service {
	return &Service{store: store, cache: c, logger: logger}
}

// Geometry returns the points for ref, failing with NotFound when there are none.
func (s *Service) Geometry(ctx context.Context, ref models.TrackRef) ([]models.GeometryPoint, error) {
	if ref.SubdivisionID == "" {
		return nil, errs.New(errs.KindValidation, "geo.geometry", "subdivision is required")
	}
	points, err := s.cache.GetOrLoad(ref, func() ([]models.GeometryPoint, error) {
		pts, err := s.store.GetGeometry(ctx, ref)
		if err != nil {
			return nil, err
		}
		if len(pts) == 0 {
			return nil, errs.New(errs.KindNotFound, "geo.geometry", "no geometry for %s", ref)
		}
		return pts, nil
	})
	if err != nil {
		if k := errs.KindOf(err); k == errs.KindNotFound || k == errs.KindTimeout {
			return nil, err
		}
		return nil, errs.Wrap(errs.KindInternal, "geo.geometry", err)
	}
	return points, nil
}

// Interpolate maps (lat, lon) to a milepost on ref.
func (s *Service) Interpolate(ctx context.Context, ref models.TrackRef, lat, lon float64) (Interpolation, error) {
	if err := models.ValidateCoordinates(lat, lon); err != nil {
		return Interpolation{}, err
	}
	points, err := s.Geometry(ctx, ref)
	if err != nil {
		return Interpolation{}, err
	}
	return Interpolate(points, lat, lon)
}

// TrackDistance measures between two mileposts on ref. Missing geometry
// degrades to the straight milepost difference.
func (s *Service) TrackDistance(ctx context.Context, ref models.TrackRef, mp1, mp2 float64) (float64, Method, error) {
	points, err := s.Geometry(ctx, ref)
	if errs.Is(err, errs.KindNotFound) {
		d, _ := TrackDistance(mp1, mp2, nil)
		return d, MethodStraightLine, nil
	}
	if err != nil {
		return 0, "", err
	}
	d, m := TrackDistance(mp1, mp2, points)
	return d, m, nil
}

// DistanceBetween interpolates both positions onto ref and measures along the
// track. Without geometry it falls back to the haversine distance.
func (s *Service) DistanceBetween(ctx context.Context, ref models.TrackRef, lat1, lon1, lat2, lon2 float64) (DistanceResult, error) {
	if err := models.ValidateCoordinates(lat1, lon1); err != nil {
		return DistanceResult{}, err
	}
	if err := models.ValidateCoordinates(lat2, lon2); err != nil {
		return DistanceResult{}, err
	}

	straight := DistanceResult{
		Distance: Round2(GPSDistance(lat1, lon1, lat2, lon2)),
		Method:   MethodStraightLine,
	}

	points, err := s.Geometry(ctx, ref)
	if errs.Is(err, errs.KindNotFound) {
		s.logger.Debugf("No geometry for %s, using straight-line distance", ref)
		return straight, nil
	}
	if err != nil {
		return DistanceResult{}, err
	}

	a, err := Interpolate(points, lat1, lon1)
	if err != nil {
		return straight, nil
	}
	b, err := Interpolate(points, lat2, lon2)
	if err != nil {
		return straight, nil
	}
	d, m := TrackDistance(a.Milepost, b.Milepost, points)
	return DistanceResult{Distance: d, Method: m, Milepost1: &a.Milepost, Milepost2: &b.Milepost}, nil
}

// GeoJSON renders the geometry for ref as one LineString per track plus a
// Point per surveyed milepost.
func (s *Service) GeoJSON(ctx context.Context, ref models.TrackRef) (*geojson.FeatureCollection, error) {
	points, err := s.Geometry(ctx, ref)
	if err != nil {
		return nil, err
	}
	return ToFeatureCollection(points), nil
}

// ToFeatureCollection groups points by track in input order.
func ToFeatureCollection(points []models.GeometryPoint) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	var order []models.TrackRef
	lines := make(map[models.TrackRef]orb.LineString)
	bounds := make(map[models.TrackRef][2]float64)
	for _, p := range points {
		if _, ok := lines[p.TrackRef]; !ok {
			order = append(order, p.TrackRef)
			bounds[p.TrackRef] = [2]float64{p.Milepost, p.Milepost}
		}
		lines[p.TrackRef] = append(lines[p.TrackRef], p.Point())
		b := bounds[p.TrackRef]
		bounds[p.TrackRef] = [2]float64{min(b[0], p.Milepost), max(b[1], p.Milepost)}

		f := geojson.NewFeature(p.Point())
		f.Properties["milepost"] = p.Milepost
		f.Properties["subdivision_id"] = p.SubdivisionID
		f.Properties["track_type"] = p.TrackType
		f.Properties["track_number"] = p.TrackNumber
		if p.Elevation != nil {
			f.Properties["elevation"] = *p.Elevation
		}
		fc.Append(f)
	}

	for _, ref := range order {
		ls := lines[ref]
		if len(ls) < 2 {
			continue
		}
		f := geojson.NewFeature(ls)
		f.Properties["subdivision_id"] = ref.SubdivisionID
		f.Properties["track_type"] = ref.TrackType
		f.Properties["track_number"] = ref.TrackNumber
		f.Properties["begin_mp"] = bounds[ref][0]
		f.Properties["end_mp"] = bounds[ref][1]
		var length float64
		for i := 1; i < len(ls); i++ {
			length += Distance(ls[i-1], ls[i])
		}
		f.Properties["length_miles"] = Round2(length)
		fc.Append(f)
	}
	return fc
}
