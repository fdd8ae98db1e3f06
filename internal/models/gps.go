package models

import (
	"time"

	"proximity-service/internal/errs"
)

// GPSFix is a single position report from a worker device.
type GPSFix struct {
	UserID      int       `json:"user_id"`
	AuthorityID *int64    `json:"authority_id,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Accuracy    float64   `json:"accuracy"`
	Speed       *float64  `json:"speed,omitempty"`
	Heading     *float64  `json:"heading,omitempty"`
	Milepost    *float64  `json:"milepost,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ValidateCoordinates rejects out-of-range WGS84 coordinates.
func ValidateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return errs.New(errs.KindValidation, "gps", "latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return errs.New(errs.KindValidation, "gps", "longitude %v out of range", lon)
	}
	return nil
}

// Validate checks the fix before it reaches the engine.
func (f GPSFix) Validate() error {
	if f.UserID <= 0 {
		return errs.New(errs.KindValidation, "gps", "user id is required")
	}
	if err := ValidateCoordinates(f.Latitude, f.Longitude); err != nil {
		return err
	}
	if f.Accuracy < 0 {
		return errs.New(errs.KindValidation, "gps", "accuracy must be non-negative")
	}
	if f.Speed != nil && *f.Speed < 0 {
		return errs.New(errs.KindValidation, "gps", "speed must be non-negative")
	}
	return nil
}
