package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"proximity-service/internal/models"
	"proximity-service/internal/notification"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 200
	statsWindow       = 24 * time.Hour
)

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return v, true
}

func (h *Handler) GetAlerts(c *gin.Context) {
	userID, ok := queryInt(c, "user_id", 0)
	if !ok {
		return
	}
	if userID == 0 {
		if userID, ok = callerID(c); !ok {
			return
		}
	}
	limit, ok := queryInt(c, "limit", defaultAlertLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	if limit == 0 || limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	alerts, total, err := h.deps.Store.GetAlertsByUserID(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(c, "Failed to get alerts", err)
		return
	}

	h.logger.Infof("Retrieved %d alerts for user_id %d", len(alerts), userID)
	c.JSON(http.StatusOK, gin.H{
		"alerts": alerts,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) MarkAlertRead(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.deps.Store.MarkAlertRead(c.Request.Context(), id, userID); err != nil {
		h.writeError(c, "Failed to mark alert read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "read": true})
}

func (h *Handler) GetAlertStats(c *gin.Context) {
	agencyID, ok := queryInt(c, "agency_id", 0)
	if !ok {
		return
	}
	if agencyID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "agency_id is required"})
		return
	}

	ctx := c.Request.Context()
	stats, err := h.deps.StatsCache.GetOrLoad(agencyID, func() (models.AlertStats, error) {
		return h.deps.Store.GetAlertStats(ctx, agencyID, time.Now().Add(-statsWindow))
	})
	if err != nil {
		h.writeError(c, "Failed to get alert stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) thresholdTarget(c *gin.Context) (int, models.ConfigType, bool) {
	id, ok := h.int64Param(c, "id")
	if !ok {
		return 0, "", false
	}
	ct, err := models.ParseConfigType(c.Param("configType"))
	if err != nil {
		h.writeError(c, "Invalid config type", err)
		return 0, "", false
	}
	return int(id), ct, true
}

func (h *Handler) GetThresholds(c *gin.Context) {
	agencyID, ct, ok := h.thresholdTarget(c)
	if !ok {
		return
	}
	list, err := h.deps.Thresholds.GetThresholds(c.Request.Context(), agencyID, ct)
	if err != nil {
		h.writeError(c, "Failed to get thresholds", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agency_id": agencyID, "config_type": ct, "thresholds": list})
}

type thresholdsRequest struct {
	Thresholds []models.AlertThreshold `json:"thresholds" binding:"required,min=1,dive"`
}

func (h *Handler) UpdateThresholds(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	agencyID, ct, ok := h.thresholdTarget(c)
	if !ok {
		return
	}
	var req thresholdsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request body for thresholds: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	list, err := h.deps.Thresholds.Update(c.Request.Context(), agencyID, ct, req.Thresholds)
	if err != nil {
		h.writeError(c, "Failed to update thresholds", err)
		return
	}
	h.deps.Notifier.NotifyConfigChange(notification.ConfigChange{
		AgencyID:   agencyID,
		ConfigType: ct,
		Thresholds: list,
		ChangedBy:  userID,
		ChangedAt:  time.Now(),
	})

	h.logger.Infof("User %d updated %s thresholds for agency %d", userID, ct, agencyID)
	c.JSON(http.StatusOK, gin.H{"agency_id": agencyID, "config_type": ct, "thresholds": list})
}

func (h *Handler) RegisterDevice(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var t models.DeviceToken
	if err := c.ShouldBindJSON(&t); err != nil {
		h.logger.Errorf("Invalid request body for device token: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	t.UserID = userID

	stored, err := h.deps.Store.UpsertDeviceToken(c.Request.Context(), t)
	if err != nil {
		h.writeError(c, "Failed to register device", err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

func (h *Handler) MonitorStats(c *gin.Context) {
	resp := gin.H{
		"scanner":       h.deps.Monitor.Stats(),
		"notifications": h.deps.Notifier.Stats(),
	}
	if h.deps.Hub != nil {
		resp["sockets"] = h.deps.Hub.Connections()
	}
	c.JSON(http.StatusOK, resp)
}
