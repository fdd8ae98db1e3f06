// Package authority runs the authority lifecycle: creation with synchronous
// overlap detection, ending, and overlap resolution.
package authority

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"proximity-service/internal/errs"
	"proximity-service/internal/logging"
	"proximity-service/internal/models"
	"proximity-service/internal/notification"
	"proximity-service/internal/overlap"
)

// Store persists authorities and their overlaps.
type Store interface {
	CreateAuthority(ctx context.Context, a models.Authority) (models.Authority, error)
	GetAuthority(ctx context.Context, id int64) (models.Authority, error)
	EndAuthority(ctx context.Context, id int64, endedAt time.Time) (models.Authority, error)
	CreateOverlap(ctx context.Context, rec models.OverlapRecord) (models.OverlapRecord, error)
	GetOverlapsForAuthority(ctx context.Context, authorityID int64) ([]models.OverlapRecord, error)
	ResolveOverlap(ctx context.Context, id uuid.UUID, at time.Time) (models.OverlapRecord, error)
}

// OverlapChecker finds active authorities intersecting a candidate range.
type OverlapChecker interface {
	CheckOverlap(ctx context.Context, c overlap.Candidate, excludeID int64) ([]models.OverlapRecord, error)
}

// Dispatcher delivers overlap alerts to workers and supervisors.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.AlertEvent) error
	NotifyOverlap(notice notification.OverlapNotice)
}

// Tracker drops live alert state for a user whose authority ended.
type Tracker interface {
	Forget(ctx context.Context, userID int)
}

// CreateResult is returned from Create.
type CreateResult struct {
	Authority      models.Authority       `json:"authority"`
	AuthorityID    int64                  `json:"authority_id"`
	HasOverlap     bool                   `json:"has_overlap"`
	OverlapDetails []models.OverlapRecord `json:"overlap_details"`
}

// Service coordinates authority creation and teardown.
type Service struct {
	store      Store
	checker    OverlapChecker
	dispatcher Dispatcher
	tracker    Tracker
	logger     *logging.Logger
	now        func() time.Time
}

// NewService constructs an authority Service.
func NewService(store Store, checker OverlapChecker, dispatcher Dispatcher, tracker Tracker, logger *logging.Logger) *Service {
	return &Service{
		store:      store,
		checker:    checker,
		dispatcher: dispatcher,
		tracker:    tracker,
		logger:     logger,
		now:        time.Now,
	}
}

// Create stores a new authority and reports every active authority it
// overlaps. Overlap detection completes before Create returns; alert
// delivery does not.
func (s *Service) Create(ctx context.Context, a models.Authority) (CreateResult, error) {
	if a.UserID <= 0 {
		return CreateResult{}, errs.New(errs.KindValidation, "authority.create", "user id is required")
	}
	if err := models.ValidateRange(a.TrackRef, a.BeginMP, a.EndMP); err != nil {
		return CreateResult{}, err
	}
	now := s.now()
	if a.ExpirationTime != nil && !a.ExpirationTime.After(now) {
		return CreateResult{}, errs.New(errs.KindValidation, "authority.create", "expiration time must be in the future")
	}
	a.StartTime = now

	created, err := s.store.CreateAuthority(ctx, a)
	if err != nil {
		return CreateResult{}, fmt.Errorf("failed to create authority: %w", err)
	}

	records, err := s.checker.CheckOverlap(ctx, overlap.CandidateFor(created), created.ID)
	if err != nil {
		// The authority must not stay active without an overlap check.
		if _, eerr := s.store.EndAuthority(context.WithoutCancel(ctx), created.ID, s.now()); eerr != nil {
			s.logger.Errorf("Failed to roll back authority %d after overlap check error: %v", created.ID, eerr)
		}
		return CreateResult{}, fmt.Errorf("overlap check for authority %d failed: %w", created.ID, err)
	}

	result := CreateResult{
		Authority:      created,
		AuthorityID:    created.ID,
		HasOverlap:     len(records) > 0,
		OverlapDetails: make([]models.OverlapRecord, 0, len(records)),
	}
	for _, rec := range records {
		stored, err := s.store.CreateOverlap(ctx, rec)
		if err != nil {
			s.logger.Errorf("Failed to store overlap between authorities %d and %d: %v", rec.Authority1ID, rec.Authority2ID, err)
			stored = rec
		}
		result.OverlapDetails = append(result.OverlapDetails, stored)
		s.alertOverlap(ctx, created, stored)
	}

	if result.HasOverlap {
		s.logger.Warnf("Authority %d on %s MP %.2f-%.2f overlaps %d active authorities",
			created.ID, created.TrackRef, created.BeginMP, created.EndMP, len(records))
	} else {
		s.logger.Infof("Created authority %d on %s MP %.2f-%.2f", created.ID, created.TrackRef, created.BeginMP, created.EndMP)
	}
	return result, nil
}

// LevelForSeverity maps an overlap's span class to an alert level.
func LevelForSeverity(sev models.OverlapSeverity) models.Level {
	switch sev {
	case models.OverlapCritical, models.OverlapHigh:
		return models.LevelCritical
	case models.OverlapMedium:
		return models.LevelWarning
	}
	return models.LevelInformational
}

// alertOverlap notifies both holders and the agency supervisors. Failures
// are logged and never fail the creation.
func (s *Service) alertOverlap(ctx context.Context, created models.Authority, rec models.OverlapRecord) {
	level := LevelForSeverity(rec.Severity)
	id := rec.ID

	type side struct {
		authorityID, otherAuthorityID int64
		userID, otherUserID           int
	}
	otherAuthority, otherUser := rec.Other(created.ID)
	sides := []side{
		{created.ID, otherAuthority, created.UserID, otherUser},
		{otherAuthority, created.ID, otherUser, created.UserID},
	}
	for _, sd := range sides {
		counterpart := sd.otherUserID
		ev := models.NewAlertEvent(level, sd.userID, sd.authorityID, models.OverlapDetails{
			OverlapID:        &id,
			OtherAuthorityID: sd.otherAuthorityID,
			OverlapBeginMP:   rec.OverlapBeginMP,
			OverlapEndMP:     rec.OverlapEndMP,
			Severity:         rec.Severity,
		}, rec.DetectedAt)
		ev.AgencyID = created.AgencyID
		ev.CounterpartUserID = &counterpart
		ev.DedupeKey = fmt.Sprintf("overlap|%s|%d", rec.ID, sd.userID)
		ev.Message = fmt.Sprintf("Your authority %d overlaps authority %d on %s between MP %.2f and MP %.2f",
			sd.authorityID, sd.otherAuthorityID, rec.TrackRef, rec.OverlapBeginMP, rec.OverlapEndMP)
		if err := s.dispatcher.Dispatch(ctx, ev); err != nil {
			s.logger.Errorf("Failed to dispatch overlap alert to user %d: %v", sd.userID, err)
		}
	}

	s.dispatcher.NotifyOverlap(notification.OverlapNotice{
		AgencyID: created.AgencyID,
		Record:   rec,
		Names:    map[int64]string{created.ID: created.EmployeeName},
	})
}

// End stops tracking an authority and clears its holder's alert state.
func (s *Service) End(ctx context.Context, id int64) (models.Authority, error) {
	a, err := s.store.GetAuthority(ctx, id)
	if err != nil {
		return models.Authority{}, err
	}
	if !a.IsActive {
		return models.Authority{}, errs.New(errs.KindConflict, "authority.end", "authority %d already ended", id)
	}
	ended, err := s.store.EndAuthority(ctx, id, s.now())
	if err != nil {
		return models.Authority{}, err
	}
	s.tracker.Forget(ctx, ended.UserID)
	s.logger.Infof("Ended authority %d for user %d", id, ended.UserID)
	return ended, nil
}

// Get returns one authority.
func (s *Service) Get(ctx context.Context, id int64) (models.Authority, error) {
	return s.store.GetAuthority(ctx, id)
}

// Overlaps lists the overlaps recorded for an authority.
func (s *Service) Overlaps(ctx context.Context, id int64) ([]models.OverlapRecord, error) {
	if _, err := s.store.GetAuthority(ctx, id); err != nil {
		return nil, err
	}
	return s.store.GetOverlapsForAuthority(ctx, id)
}

// ResolveOverlap marks an overlap as handled.
func (s *Service) ResolveOverlap(ctx context.Context, id uuid.UUID) (models.OverlapRecord, error) {
	rec, err := s.store.ResolveOverlap(ctx, id, s.now())
	if err != nil {
		return models.OverlapRecord{}, err
	}
	s.logger.Infof("Resolved overlap %s between authorities %d and %d", id, rec.Authority1ID, rec.Authority2ID)
	return rec, nil
}
