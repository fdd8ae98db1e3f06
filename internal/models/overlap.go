package models

import (
	"time"

	"github.com/google/uuid"
)

// OverlapSeverity classifies an overlap by its span.
type OverlapSeverity string

const (
	OverlapLow      OverlapSeverity = "Low"
	OverlapMedium   OverlapSeverity = "Medium"
	OverlapHigh     OverlapSeverity = "High"
	OverlapCritical OverlapSeverity = "Critical"
)

// OverlapRecord is a detected collision between two active authorities.
// Authority1ID is always the smaller id.
type OverlapRecord struct {
	ID           uuid.UUID `json:"id"`
	Authority1ID int64     `json:"authority1_id"`
	Authority2ID int64     `json:"authority2_id"`
	User1ID      int       `json:"user1_id"`
	User2ID      int       `json:"user2_id"`
	TrackRef
	OverlapBeginMP float64         `json:"overlap_begin_mp"`
	OverlapEndMP   float64         `json:"overlap_end_mp"`
	Severity       OverlapSeverity `json:"severity"`
	DetectedAt     time.Time       `json:"detected_at"`
	Resolved       bool            `json:"resolved"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
}

// Span is the length of the overlapping section in miles.
func (o OverlapRecord) Span() float64 {
	return o.OverlapEndMP - o.OverlapBeginMP
}

// Other returns the authority id and user on the other side of the overlap.
func (o OverlapRecord) Other(authorityID int64) (int64, int) {
	if o.Authority1ID == authorityID {
		return o.Authority2ID, o.User2ID
	}
	return o.Authority1ID, o.User1ID
}
