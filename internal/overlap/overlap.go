// Package overlap detects active authorities whose milepost ranges intersect
// on the same track.
package overlap

import (
	"context"
	"time"

	"github.com/google/uuid"
	"proximity-service/internal/errs"
	"proximity-service/internal/models"
)

// AuthoritySource lists active authorities on a track.
type AuthoritySource interface {
	GetActiveAuthorities(ctx context.Context, ref models.TrackRef) ([]models.Authority, error)
}

// Candidate is a proposed or existing authority range to test.
type Candidate struct {
	AuthorityID int64
	UserID      int
	models.TrackRef
	BeginMP float64
	EndMP   float64
}

// CandidateFor builds a Candidate from an existing authority.
func CandidateFor(a models.Authority) Candidate {
	return Candidate{AuthorityID: a.ID, UserID: a.UserID, TrackRef: a.TrackRef, BeginMP: a.BeginMP, EndMP: a.EndMP}
}

// Intersect returns the shared section of [b1,e1] and [b2,e2]. Ranges that
// only touch at an endpoint do not intersect.
func Intersect(b1, e1, b2, e2 float64) (begin, end float64, ok bool) {
	if !(b1 < e2 && b2 < e1) {
		return 0, 0, false
	}
	return max(b1, b2), min(e1, e2), true
}

// ClassifySeverity grades an overlap by its span in miles.
func ClassifySeverity(span float64) models.OverlapSeverity {
	switch {
	case span > 5:
		return models.OverlapCritical
	case span > 2:
		return models.OverlapHigh
	case span > 0.5:
		return models.OverlapMedium
	}
	return models.OverlapLow
}

// NewRecord builds the OverlapRecord between c and other, ordering the pair by
// authority id so the record is the same whichever side is checked.
func NewRecord(c Candidate, other models.Authority, detectedAt time.Time) (models.OverlapRecord, bool) {
	begin, end, ok := Intersect(c.BeginMP, c.EndMP, other.BeginMP, other.EndMP)
	if !ok {
		return models.OverlapRecord{}, false
	}
	rec := models.OverlapRecord{
		ID:             uuid.New(),
		Authority1ID:   c.AuthorityID,
		User1ID:        c.UserID,
		Authority2ID:   other.ID,
		User2ID:        other.UserID,
		TrackRef:       c.TrackRef,
		OverlapBeginMP: begin,
		OverlapEndMP:   end,
		Severity:       ClassifySeverity(end - begin),
		DetectedAt:     detectedAt,
	}
	if rec.Authority2ID < rec.Authority1ID {
		rec.Authority1ID, rec.Authority2ID = rec.Authority2ID, rec.Authority1ID
		rec.User1ID, rec.User2ID = rec.User2ID, rec.User1ID
	}
	return rec, true
}

// Detector checks candidates against the currently active authorities.
type Detector struct {
	source AuthoritySource
	now    func() time.Time
}

// NewDetector constructs a Detector.
func NewDetector(source AuthoritySource) *Detector {
	return &Detector{source: source, now: time.Now}
}

// CheckOverlap returns one record per active authority on the candidate's
// track whose range intersects it. excludeID, when non-zero, is skipped.
func (d *Detector) CheckOverlap(ctx context.Context, c Candidate, excludeID int64) ([]models.OverlapRecord, error) {
	if err := models.ValidateRange(c.TrackRef, c.BeginMP, c.EndMP); err != nil {
		return nil, err
	}
	active, err := d.source.GetActiveAuthorities(ctx, c.TrackRef)
	if err != nil {
		if errs.KindOf(err) == errs.KindTimeout {
			return nil, err
		}
		return nil, errs.Wrap(errs.KindInternal, "overlap.check", err)
	}

	now := d.now()
	var records []models.OverlapRecord
	for _, a := range active {
		if !a.IsActive || (excludeID != 0 && a.ID == excludeID) || !a.TrackRef.Same(c.TrackRef) {
			continue
		}
		if rec, ok := NewRecord(c, a, now); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}
