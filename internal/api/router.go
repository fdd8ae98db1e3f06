package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"proximity-service/internal/authority"
	"proximity-service/internal/cache"
	"proximity-service/internal/config"
	"proximity-service/internal/geo"
	"proximity-service/internal/logging"
	"proximity-service/internal/models"
	"proximity-service/internal/notification"
	"proximity-service/internal/scanner"
	"proximity-service/internal/socket"
	"proximity-service/internal/tracking"
)

// Authorities is the authority lifecycle.
type Authorities interface {
	Create(ctx context.Context, a models.Authority) (authority.CreateResult, error)
	Get(ctx context.Context, id int64) (models.Authority, error)
	End(ctx context.Context, id int64) (models.Authority, error)
	Overlaps(ctx context.Context, id int64) ([]models.OverlapRecord, error)
	ResolveOverlap(ctx context.Context, id uuid.UUID) (models.OverlapRecord, error)
}

// Tracker ingests fixes and answers proximity queries.
type Tracker interface {
	Update(ctx context.Context, fix models.GPSFix) (tracking.UpdateResult, error)
	NearbyWorkers(ctx context.Context, authorityID int64, lat, lon, maxDistance float64) ([]tracking.NearbyWorker, error)
}

// Tracks exposes the milepost and distance algorithms.
type Tracks interface {
	Interpolate(ctx context.Context, ref models.TrackRef, lat, lon float64) (geo.Interpolation, error)
	DistanceBetween(ctx context.Context, ref models.TrackRef, lat1, lon1, lat2, lon2 float64) (geo.DistanceResult, error)
	GeoJSON(ctx context.Context, ref models.TrackRef) (*geojson.FeatureCollection, error)
}

// Thresholds reads and replaces agency alert configuration.
type Thresholds interface {
	GetThresholds(ctx context.Context, agencyID int, configType models.ConfigType) ([]models.AlertThreshold, error)
	Update(ctx context.Context, agencyID int, configType models.ConfigType, list []models.AlertThreshold) ([]models.AlertThreshold, error)
}

// Store is the alert history and device registry.
type Store interface {
	GetAlertsByUserID(ctx context.Context, userID, limit, offset int) ([]models.AlertEvent, int, error)
	MarkAlertRead(ctx context.Context, id uuid.UUID, userID int) error
	GetAlertStats(ctx context.Context, agencyID int, since time.Time) (models.AlertStats, error)
	UpsertDeviceToken(ctx context.Context, t models.DeviceToken) (models.DeviceToken, error)
}

// Notifier queues supervisor notices and reports delivery counters.
type Notifier interface {
	NotifyConfigChange(change notification.ConfigChange)
	Stats() notification.Stats
}

// Monitor reports scan loop activity.
type Monitor interface {
	Stats() scanner.Stats
}

// Deps are the services the HTTP layer calls into.
type Deps struct {
	Authorities Authorities
	Tracker     Tracker
	Tracks      Tracks
	Thresholds  Thresholds
	Store       Store
	Notifier    Notifier
	Monitor     Monitor
	Hub         *socket.Hub
	StatsCache  *cache.Cache[int, models.AlertStats]
}

func NewRouter(deps Deps, logger *logging.Logger, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))
	r.Use(UserIDMiddleware())

	if deps.StatsCache == nil {
		deps.StatsCache = cache.New[int, models.AlertStats](cfg.Cache.TTL)
	}
	h := NewHandler(deps, logger)

	r.GET("/health", h.Health)

	api := r.Group(cfg.API.BasePath)
	{
		// GPS
		api.POST("/gps/update", h.UpdateGPS)

		// Authorities
		api.POST("/authorities", h.CreateAuthority)
		api.GET("/authorities/:id", h.GetAuthority)
		api.POST("/authorities/:id/end", h.EndAuthority)
		api.GET("/authorities/:id/overlaps", h.GetOverlaps)
		api.POST("/authorities/:id/check-proximity", h.CheckProximity)
		api.POST("/overlaps/:id/resolve", h.ResolveOverlap)

		// Alerts
		api.GET("/alerts", h.GetAlerts)
		api.GET("/alerts/stats", h.GetAlertStats)
		api.POST("/alerts/:id/read", h.MarkAlertRead)

		// Configuration
		api.GET("/agencies/:id/thresholds/:configType", h.GetThresholds)
		api.PUT("/agencies/:id/thresholds/:configType", h.UpdateThresholds)
		api.POST("/devices", h.RegisterDevice)

		// Tracks
		api.POST("/tracks/interpolate-milepost", h.InterpolateMilepost)
		api.POST("/tracks/calculate-distance", h.CalculateDistance)
		api.GET("/tracks/geometry", h.GetGeometry)

		api.GET("/monitor/stats", h.MonitorStats)
		api.GET("/ws", h.ServeWS)
	}
	return r
}
