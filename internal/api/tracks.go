package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"proximity-service/internal/models"
)

type interpolateRequest struct {
	Latitude      *float64 `json:"latitude" binding:"required"`
	Longitude     *float64 `json:"longitude" binding:"required"`
	SubdivisionID string   `json:"subdivision_id" binding:"required"`
	TrackType     string   `json:"track_type"`
	TrackNumber   string   `json:"track_number"`
}

func (h *Handler) InterpolateMilepost(c *gin.Context) {
	var req interpolateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request body for interpolation: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	ref := models.TrackRef{SubdivisionID: req.SubdivisionID, TrackType: req.TrackType, TrackNumber: req.TrackNumber}
	res, err := h.deps.Tracks.Interpolate(c.Request.Context(), ref, *req.Latitude, *req.Longitude)
	if err != nil {
		h.writeError(c, "Failed to interpolate milepost", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type distanceRequest struct {
	Lat1          *float64 `json:"lat1" binding:"required"`
	Lon1          *float64 `json:"lon1" binding:"required"`
	Lat2          *float64 `json:"lat2" binding:"required"`
	Lon2          *float64 `json:"lon2" binding:"required"`
	SubdivisionID string   `json:"subdivision_id" binding:"required"`
	TrackType     string   `json:"track_type"`
	TrackNumber   string   `json:"track_number"`
}

func (h *Handler) CalculateDistance(c *gin.Context) {
	var req distanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request body for distance: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	ref := models.TrackRef{SubdivisionID: req.SubdivisionID, TrackType: req.TrackType, TrackNumber: req.TrackNumber}
	res, err := h.deps.Tracks.DistanceBetween(c.Request.Context(), ref, *req.Lat1, *req.Lon1, *req.Lat2, *req.Lon2)
	if err != nil {
		h.writeError(c, "Failed to calculate distance", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetGeometry(c *gin.Context) {
	ref := models.TrackRef{
		SubdivisionID: c.Query("subdivision_id"),
		TrackType:     c.Query("track_type"),
		TrackNumber:   c.Query("track_number"),
	}
	if ref.SubdivisionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subdivision_id is required"})
		return
	}
	fc, err := h.deps.Tracks.GeoJSON(c.Request.Context(), ref)
	if err != nil {
		h.writeError(c, "Failed to get track geometry", err)
		return
	}
	c.JSON(http.StatusOK, fc)
}
