package models

import (
	"fmt"

	"github.com/paulmach/orb"
)

// TrackRef identifies one ordered milepost series. Empty TrackType or
// TrackNumber act as wildcards when used as a lookup filter.
type TrackRef struct {
	SubdivisionID string `json:"subdivision_id"`
	TrackType     string `json:"track_type"`
	TrackNumber   string `json:"track_number"`
}

func (r TrackRef) String() string {
	return fmt.Sprintf("%s/%s-%s", r.SubdivisionID, r.TrackType, r.TrackNumber)
}

// Same reports whether both refs name the same physical track.
func (r TrackRef) Same(o TrackRef) bool {
	return r.SubdivisionID == o.SubdivisionID && r.TrackType == o.TrackType && r.TrackNumber == o.TrackNumber
}

// GeometryPoint is a surveyed reference point on a track.
type GeometryPoint struct {
	TrackRef
	Milepost  float64  `json:"milepost"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Elevation *float64 `json:"elevation,omitempty"`
}

// Point returns the location as an orb.Point (lon, lat).
func (p GeometryPoint) Point() orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}
