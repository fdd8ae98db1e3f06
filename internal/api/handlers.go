package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"proximity-service/internal/logging"
	"proximity-service/internal/models"
)

type Handler struct {
	deps   Deps
	logger *logging.Logger
}

func NewHandler(deps Deps, logger *logging.Logger) *Handler {
	return &Handler{deps: deps, logger: logger}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type gpsUpdateRequest struct {
	Latitude    *float64   `json:"latitude" binding:"required"`
	Longitude   *float64   `json:"longitude" binding:"required"`
	Accuracy    float64    `json:"accuracy"`
	Speed       *float64   `json:"speed"`
	Heading     *float64   `json:"heading"`
	AuthorityID *int64     `json:"authority_id"`
	Timestamp   *time.Time `json:"timestamp"`
}

func (h *Handler) UpdateGPS(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req gpsUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request body for GPS update: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	fix := models.GPSFix{
		UserID:      userID,
		AuthorityID: req.AuthorityID,
		Latitude:    *req.Latitude,
		Longitude:   *req.Longitude,
		Accuracy:    req.Accuracy,
		Speed:       req.Speed,
		Heading:     req.Heading,
	}
	if req.Timestamp != nil {
		fix.Timestamp = *req.Timestamp
	}

	res, err := h.deps.Tracker.Update(c.Request.Context(), fix)
	if err != nil {
		h.writeError(c, "Failed to process GPS update", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type createAuthorityRequest struct {
	UserID         int        `json:"user_id"`
	AgencyID       int        `json:"agency_id"`
	SubdivisionID  string     `json:"subdivision_id" binding:"required"`
	TrackType      string     `json:"track_type" binding:"required"`
	TrackNumber    string     `json:"track_number" binding:"required"`
	BeginMP        *float64   `json:"begin_mp" binding:"required"`
	EndMP          *float64   `json:"end_mp" binding:"required"`
	EmployeeName   string     `json:"employee_name"`
	ExpirationTime *time.Time `json:"expiration_time"`
}

func (h *Handler) CreateAuthority(c *gin.Context) {
	var req createAuthorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request body for authority: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.UserID == 0 {
		userID, ok := callerID(c)
		if !ok {
			return
		}
		req.UserID = userID
	}

	res, err := h.deps.Authorities.Create(c.Request.Context(), models.Authority{
		UserID:   req.UserID,
		AgencyID: req.AgencyID,
		TrackRef: models.TrackRef{
			SubdivisionID: req.SubdivisionID,
			TrackType:     req.TrackType,
			TrackNumber:   req.TrackNumber,
		},
		BeginMP:        *req.BeginMP,
		EndMP:          *req.EndMP,
		EmployeeName:   req.EmployeeName,
		ExpirationTime: req.ExpirationTime,
	})
	if err != nil {
		h.writeError(c, "Failed to create authority", err)
		return
	}

	h.logger.Infof("Created authority %d (overlap: %t)", res.AuthorityID, res.HasOverlap)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetAuthority(c *gin.Context) {
	id, ok := h.int64Param(c, "id")
	if !ok {
		return
	}
	a, err := h.deps.Authorities.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to get authority", err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) EndAuthority(c *gin.Context) {
	id, ok := h.int64Param(c, "id")
	if !ok {
		return
	}
	a, err := h.deps.Authorities.End(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to end authority", err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) GetOverlaps(c *gin.Context) {
	id, ok := h.int64Param(c, "id")
	if !ok {
		return
	}
	list, err := h.deps.Authorities.Overlaps(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to get overlaps", err)
		return
	}
	if list == nil {
		list = []models.OverlapRecord{}
	}
	h.logger.Infof("Retrieved %d overlaps for authority %d", len(list), id)
	c.JSON(http.StatusOK, list)
}

type checkProximityRequest struct {
	Latitude    *float64 `json:"latitude" binding:"required"`
	Longitude   *float64 `json:"longitude" binding:"required"`
	MaxDistance float64  `json:"max_distance"`
}

func (h *Handler) CheckProximity(c *gin.Context) {
	id, ok := h.int64Param(c, "id")
	if !ok {
		return
	}
	var req checkProximityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request body for proximity check: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	workers, err := h.deps.Tracker.NearbyWorkers(c.Request.Context(), id, *req.Latitude, *req.Longitude, req.MaxDistance)
	if err != nil {
		h.writeError(c, "Failed to check proximity", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workers_nearby": workers})
}

func (h *Handler) ResolveOverlap(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	rec, err := h.deps.Authorities.ResolveOverlap(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, "Failed to resolve overlap", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
