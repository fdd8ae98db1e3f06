package models

import (
	"time"

	"proximity-service/internal/errs"
)

// Authority is a live, time- and location-bounded permission to occupy track.
type Authority struct {
	ID       int64 `json:"authority_id"`
	UserID   int   `json:"user_id"`
	AgencyID int   `json:"agency_id"`
	TrackRef
	BeginMP        float64    `json:"begin_mp"`
	EndMP          float64    `json:"end_mp"`
	EmployeeName   string     `json:"employee_name,omitempty"`
	StartTime      time.Time  `json:"start_time"`
	ExpirationTime *time.Time `json:"expiration_time,omitempty"`
	IsActive       bool       `json:"is_active"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Contains reports whether mp lies within the authority limits.
func (a Authority) Contains(mp float64) bool {
	return mp >= a.BeginMP && mp <= a.EndMP
}

// ValidateRange checks a milepost range and its track reference.
func ValidateRange(ref TrackRef, beginMP, endMP float64) error {
	if ref.SubdivisionID == "" || ref.TrackType == "" || ref.TrackNumber == "" {
		return errs.New(errs.KindValidation, "authority", "subdivision, track type and track number are required")
	}
	if beginMP < 0 || endMP < 0 {
		return errs.New(errs.KindValidation, "authority", "mileposts must be non-negative")
	}
	if beginMP >= endMP {
		return errs.New(errs.KindValidation, "authority", "begin milepost %.2f must be less than end milepost %.2f", beginMP, endMP)
	}
	return nil
}
