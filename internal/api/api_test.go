package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"proximity-service/internal/authority"
	"proximity-service/internal/config"
	"proximity-service/internal/errs"
	"proximity-service/internal/geo"
	"proximity-service/internal/logging"
	"proximity-service/internal/models"
	"proximity-service/internal/notification"
	"proximity-service/internal/scanner"
	"proximity-service/internal/socket"
	"proximity-service/internal/tracking"
)

type fakeAuthorities struct {
	created []models.Authority
	ended   []int64
}

func (f *fakeAuthorities) Create(_ context.Context, a models.Authority) (authority.CreateResult, error) {
	if err := models.ValidateRange(a.TrackRef, a.BeginMP, a.EndMP); err != nil {
		return authority.CreateResult{}, err
	}
	a.ID = int64(len(f.created) + 1)
	f.created = append(f.created, a)
	res := authority.CreateResult{Authority: a, AuthorityID: a.ID, OverlapDetails: []models.OverlapRecord{}}
	if len(f.created) > 1 {
		res.HasOverlap = true
		res.OverlapDetails = append(res.OverlapDetails, models.OverlapRecord{
			ID: uuid.New(), Authority1ID: 1, Authority2ID: a.ID, OverlapBeginMP: 10, OverlapEndMP: 15, Severity: models.OverlapHigh,
		})
	}
	return res, nil
}

func (f *fakeAuthorities) Get(_ context.Context, id int64) (models.Authority, error) {
	if id > int64(len(f.created)) {
		return models.Authority{}, errs.New(errs.KindNotFound, "test", "authority %d not found", id)
	}
	return f.created[id-1], nil
}

func (f *fakeAuthorities) End(_ context.Context, id int64) (models.Authority, error) {
	for _, e := range f.ended {
		if e == id {
			return models.Authority{}, errs.New(errs.KindConflict, "test", "already ended")
		}
	}
	a, err := f.Get(context.Background(), id)
	if err != nil {
		return models.Authority{}, err
	}
	f.ended = append(f.ended, id)
	a.IsActive = false
	return a, nil
}

func (f *fakeAuthorities) Overlaps(_ context.Context, id int64) ([]models.OverlapRecord, error) {
	if _, err := f.Get(context.Background(), id); err != nil {
		return nil, err
	}
	return nil, nil
}

func (f *fakeAuthorities) ResolveOverlap(_ context.Context, id uuid.UUID) (models.OverlapRecord, error) {
	return models.OverlapRecord{ID: id, Resolved: true}, nil
}

type fakeTracker struct {
	fixes []models.GPSFix
}

func (f *fakeTracker) Update(_ context.Context, fix models.GPSFix) (tracking.UpdateResult, error) {
	if err := fix.Validate(); err != nil {
		return tracking.UpdateResult{}, err
	}
	f.fixes = append(f.fixes, fix)
	mp := fix.Latitude
	return tracking.UpdateResult{AuthorityID: 1, Milepost: &mp, Method: geo.MethodInterpolated, Alerts: []models.AlertEvent{}}, nil
}

func (f *fakeTracker) NearbyWorkers(_ context.Context, authorityID int64, _, _, maxDistance float64) ([]tracking.NearbyWorker, error) {
	if authorityID == 99 {
		return nil, errs.New(errs.KindNotFound, "test", "authority not found")
	}
	return []tracking.NearbyWorker{{UserID: 8, AuthorityID: 2, Distance: maxDistance / 2}}, nil
}

type fakeTracks struct{}

func (fakeTracks) Interpolate(_ context.Context, ref models.TrackRef, lat, _ float64) (geo.Interpolation, error) {
	if ref.SubdivisionID == "UNKNOWN" {
		return geo.Interpolation{}, errs.New(errs.KindNotFound, "test", "no geometry")
	}
	return geo.Interpolation{Milepost: lat, DistanceToTrack: 0.02, Method: geo.MethodInterpolated}, nil
}

func (fakeTracks) DistanceBetween(_ context.Context, _ models.TrackRef, lat1, _, lat2, _ float64) (geo.DistanceResult, error) {
	return geo.DistanceResult{Distance: geo.Round2(lat2 - lat1), Method: geo.MethodTrack}, nil
}

func (fakeTracks) GeoJSON(context.Context, models.TrackRef) (*geojson.FeatureCollection, error) {
	return geo.ToFeatureCollection([]models.GeometryPoint{
		{TrackRef: models.TrackRef{SubdivisionID: "VENTURA", TrackType: "Main", TrackNumber: "1"}, Milepost: 10, Latitude: 34.1, Longitude: -119.1},
		{TrackRef: models.TrackRef{SubdivisionID: "VENTURA", TrackType: "Main", TrackNumber: "1"}, Milepost: 11, Latitude: 34.2, Longitude: -119.2},
	}), nil
}

type fakeThresholds struct {
	saved []models.AlertThreshold
}

func (f *fakeThresholds) GetThresholds(_ context.Context, agencyID int, ct models.ConfigType) ([]models.AlertThreshold, error) {
	return []models.AlertThreshold{{AgencyID: agencyID, ConfigType: ct, Level: models.LevelCritical, DistanceMiles: 0.5, Enabled: true}}, nil
}

func (f *fakeThresholds) Update(_ context.Context, _ int, _ models.ConfigType, list []models.AlertThreshold) ([]models.AlertThreshold, error) {
	for _, t := range list {
		if t.DistanceMiles < 0 {
			return nil, errs.New(errs.KindValidation, "test", "negative distance")
		}
	}
	f.saved = list
	return list, nil
}

type fakeStore struct {
	mu         sync.Mutex
	statsCalls int
	read       []uuid.UUID
	devices    []models.DeviceToken
}

func (f *fakeStore) GetAlertsByUserID(_ context.Context, userID, limit, offset int) ([]models.AlertEvent, int, error) {
	ev := models.NewAlertEvent(models.LevelWarning, userID, 1, models.SpeedDetails{SpeedMPH: 30, LimitMPH: 25}, time.Now())
	return []models.AlertEvent{ev}, 1, nil
}

func (f *fakeStore) MarkAlertRead(_ context.Context, id uuid.UUID, _ int) error {
	if id == uuid.Nil {
		return errs.New(errs.KindNotFound, "test", "missing")
	}
	f.read = append(f.read, id)
	return nil
}

func (f *fakeStore) GetAlertStats(_ context.Context, agencyID int, _ time.Time) (models.AlertStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsCalls++
	return models.AlertStats{AgencyID: agencyID, Total: 3}, nil
}

func (f *fakeStore) UpsertDeviceToken(_ context.Context, t models.DeviceToken) (models.DeviceToken, error) {
	t.Active = true
	f.devices = append(f.devices, t)
	return t, nil
}

type fakeNotifier struct {
	changes []notification.ConfigChange
}

func (f *fakeNotifier) NotifyConfigChange(change notification.ConfigChange) {
	f.changes = append(f.changes, change)
}

func (f *fakeNotifier) Stats() notification.Stats { return notification.Stats{Delivered: 4} }

type fakeMonitor struct{}

func (fakeMonitor) Stats() scanner.Stats { return scanner.Stats{Running: true, Ticks: 12} }

type testServer struct {
	router      *gin.Engine
	authorities *fakeAuthorities
	tracker     *fakeTracker
	thresholds  *fakeThresholds
	store       *fakeStore
	notifier    *fakeNotifier
	hub         *socket.Hub
}

func newTestServer() *testServer {
	gin.SetMode(gin.TestMode)
	s := &testServer{
		authorities: &fakeAuthorities{},
		tracker:     &fakeTracker{},
		thresholds:  &fakeThresholds{},
		store:       &fakeStore{},
		notifier:    &fakeNotifier{},
		hub:         socket.NewHub(logging.Discard()),
	}
	var cfg config.Config
	cfg.API.BasePath = "/api/v0"
	cfg.Cache.TTL = time.Minute
	s.router = NewRouter(Deps{
		Authorities: s.authorities,
		Tracker:     s.tracker,
		Tracks:      fakeTracks{},
		Thresholds:  s.thresholds,
		Store:       s.store,
		Notifier:    s.notifier,
		Monitor:     fakeMonitor{},
		Hub:         s.hub,
	}, logging.Discard(), cfg)
	return s
}

func (s *testServer) do(method, path, body string, userID string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, "/api/v0"+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind errs.Kind
		want int
	}{
		{errs.KindValidation, http.StatusBadRequest},
		{errs.KindNotFound, http.StatusNotFound},
		{errs.KindConflict, http.StatusConflict},
		{errs.KindTimeout, http.StatusGatewayTimeout},
		{errs.KindInternal, http.StatusInternalServerError},
		{errs.KindDeliveryFailure, http.StatusInternalServerError},
	}
	for _, test := range tests {
		t.Run(string(test.kind), func(t *testing.T) {
			assert.Equal(t, test.want, statusFor(errs.New(test.kind, "test", "boom")))
		})
	}
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
}

func TestUserIDHeader(t *testing.T) {
	s := newTestServer()

	w := s.do(http.MethodPost, "/gps/update", `{"latitude": 12, "longitude": -119}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/gps/update", `{"latitude": 12, "longitude": -119}`, "abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, s.tracker.fixes)
}

func TestUpdateGPS(t *testing.T) {
	s := newTestServer()

	w := s.do(http.MethodPost, "/gps/update", `{"latitude": 12.5, "longitude": -119, "accuracy": 5, "authority_id": 1}`, "7")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, 12.5, body["milepost"])
	assert.Equal(t, "interpolated", body["method"])
	assert.Equal(t, []any{}, body["alerts"])

	require.Len(t, s.tracker.fixes, 1)
	assert.Equal(t, 7, s.tracker.fixes[0].UserID)
	assert.Equal(t, int64(1), *s.tracker.fixes[0].AuthorityID)
}

func TestUpdateGPS_Invalid(t *testing.T) {
	s := newTestServer()

	w := s.do(http.MethodPost, "/gps/update", `{"longitude": -119}`, "7")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/gps/update", `{"latitude": 95, "longitude": -119}`, "7")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["details"], "latitude")
}

func TestCreateAuthority(t *testing.T) {
	s := newTestServer()
	body := `{"subdivision_id": "VENTURA", "track_type": "Main", "track_number": "1", "begin_mp": 10, "end_mp": 20, "agency_id": 1}`

	w := s.do(http.MethodPost, "/authorities", body, "7")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, float64(1), res["authority_id"])
	assert.Equal(t, false, res["has_overlap"])
	assert.Equal(t, 7, s.authorities.created[0].UserID)

	w = s.do(http.MethodPost, "/authorities", `{"subdivision_id": "VENTURA", "track_type": "Main", "track_number": "1", "begin_mp": 9, "end_mp": 15}`, "8")
	require.Equal(t, http.StatusCreated, w.Code)
	res = decode(t, w)
	assert.Equal(t, true, res["has_overlap"])
	assert.Len(t, res["overlap_details"], 1)
}

func TestCreateAuthority_Invalid(t *testing.T) {
	s := newTestServer()
	tests := []struct {
		name   string
		body   string
		user   string
		status int
	}{
		{"missing end", `{"subdivision_id": "V", "track_type": "Main", "track_number": "1", "begin_mp": 10}`, "7", http.StatusBadRequest},
		{"reversed", `{"subdivision_id": "V", "track_type": "Main", "track_number": "1", "begin_mp": 20, "end_mp": 10}`, "7", http.StatusBadRequest},
		{"no caller", `{"subdivision_id": "V", "track_type": "Main", "track_number": "1", "begin_mp": 10, "end_mp": 20}`, "", http.StatusUnauthorized},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			w := s.do(http.MethodPost, "/authorities", test.body, test.user)
			assert.Equal(t, test.status, w.Code)
		})
	}
}

func TestAuthorityLifecycle(t *testing.T) {
	s := newTestServer()
	body := `{"subdivision_id": "VENTURA", "track_type": "Main", "track_number": "1", "begin_mp": 10, "end_mp": 20}`
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/authorities", body, "7").Code)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/authorities/1", "", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/authorities/5", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/authorities/abc", "", "").Code)

	w := s.do(http.MethodGet, "/authorities/1/overlaps", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/authorities/1/end", "", "").Code)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/authorities/1/end", "", "").Code)
}

func TestCheckProximity(t *testing.T) {
	s := newTestServer()

	w := s.do(http.MethodPost, "/authorities/1/check-proximity", `{"latitude": 12, "longitude": -119, "max_distance": 2}`, "7")
	require.Equal(t, http.StatusOK, w.Code)
	workers := decode(t, w)["workers_nearby"].([]any)
	require.Len(t, workers, 1)
	assert.Equal(t, 1.0, workers[0].(map[string]any)["distance"])

	w = s.do(http.MethodPost, "/authorities/99/check-proximity", `{"latitude": 12, "longitude": -119}`, "7")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolveOverlap(t *testing.T) {
	s := newTestServer()
	id := uuid.New()

	w := s.do(http.MethodPost, "/overlaps/"+id.String()+"/resolve", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["resolved"])

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/overlaps/not-a-uuid/resolve", "", "").Code)
}

func TestAlerts(t *testing.T) {
	s := newTestServer()

	w := s.do(http.MethodGet, "/alerts?limit=10", "", "7")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, float64(10), body["limit"])
	alerts := body["alerts"].([]any)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Speed", alerts[0].(map[string]any)["type"])

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/alerts", "", "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/alerts?user_id=9", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/alerts?limit=-1", "", "7").Code)

	id := uuid.New()
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/alerts/"+id.String()+"/read", "", "7").Code)
	assert.Equal(t, []uuid.UUID{id}, s.store.read)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/alerts/"+uuid.Nil.String()+"/read", "", "7").Code)
}

func TestAlertStatsAreCached(t *testing.T) {
	s := newTestServer()

	for j := 0; j < 3; j++ {
		w := s.do(http.MethodGet, "/alerts/stats?agency_id=1", "", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(3), decode(t, w)["total"])
	}
	assert.Equal(t, 1, s.store.statsCalls)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/alerts/stats", "", "").Code)
}

func TestThresholds(t *testing.T) {
	s := newTestServer()

	w := s.do(http.MethodGet, "/agencies/1/thresholds/Boundary", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Boundary", decode(t, w)["config_type"])

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/agencies/1/thresholds/Bogus", "", "").Code)

	body := `{"thresholds": [
		{"level": "Informational", "distance_miles": 1.5, "enabled": true},
		{"level": "Critical", "distance_miles": 0.4, "enabled": true}
	]}`
	w = s.do(http.MethodPut, "/agencies/1/thresholds/Proximity", body, "3")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, s.thresholds.saved, 2)
	require.Len(t, s.notifier.changes, 1)
	assert.Equal(t, 3, s.notifier.changes[0].ChangedBy)
	assert.Equal(t, models.ConfigProximity, s.notifier.changes[0].ConfigType)

	bad := `{"thresholds": [{"level": "Critical", "distance_miles": -1, "enabled": true}]}`
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/agencies/1/thresholds/Proximity", bad, "3").Code)
	unknown := `{"thresholds": [{"level": "Severe", "distance_miles": 1, "enabled": true}]}`
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/agencies/1/thresholds/Proximity", unknown, "3").Code)
	assert.Len(t, s.notifier.changes, 1)
}

func TestRegisterDevice(t *testing.T) {
	s := newTestServer()

	w := s.do(http.MethodPost, "/devices", `{"token": "abc123", "platform": "android"}`, "7")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, s.store.devices, 1)
	assert.Equal(t, 7, s.store.devices[0].UserID)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/devices", `{"platform": "android"}`, "7").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/devices", `{"token": "x", "platform": "pager"}`, "7").Code)
}

func TestTracks(t *testing.T) {
	s := newTestServer()

	w := s.do(http.MethodPost, "/tracks/interpolate-milepost", `{"latitude": 34.2, "longitude": -119.2, "subdivision_id": "VENTURA"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 34.2, decode(t, w)["milepost"])

	w = s.do(http.MethodPost, "/tracks/interpolate-milepost", `{"latitude": 34.2, "longitude": -119.2, "subdivision_id": "UNKNOWN"}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/tracks/calculate-distance",
		`{"lat1": 10, "lon1": -119, "lat2": 12.5, "lon2": -119, "subdivision_id": "VENTURA", "track_type": "Main", "track_number": "1"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.5, decode(t, w)["distance"])

	req := httptest.NewRequest(http.MethodGet, "/api/v0/tracks/geometry?subdivision_id=VENTURA", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	fc, err := geojson.UnmarshalFeatureCollection(rec.Body.Bytes())
	require.NoError(t, err)
	assert.NotEmpty(t, fc.Features)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/tracks/geometry", "", "").Code)
}

func TestMonitorStats(t *testing.T) {
	s := newTestServer()

	w := s.do(http.MethodGet, "/monitor/stats", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(12), body["scanner"].(map[string]any)["ticks"])
	assert.Equal(t, float64(4), body["notifications"].(map[string]any)["delivered"])
	assert.Equal(t, float64(0), body["sockets"])
}

func TestServeWS(t *testing.T) {
	s := newTestServer()
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v0/ws?user_id=7"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.hub.Connections() == 1 }, time.Second, 10*time.Millisecond)

	sent, err := s.hub.Broadcast(socket.Room(7), map[string]string{"type": "Boundary"})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg map[string]string
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "Boundary", msg["type"])

	resp, err := http.Get(srv.URL + "/api/v0/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
