// Package tracking ingests worker GPS fixes from HTTP and Kafka and answers
// ad-hoc proximity queries against the live position store.
package tracking

import (
	"context"
	"fmt"
	"slices"
	"time"

	"proximity-service/internal/errs"
	"proximity-service/internal/geo"
	"proximity-service/internal/logging"
	"proximity-service/internal/models"
	"proximity-service/internal/scanner"
)

// DefaultMaxDistance is the check-proximity radius in miles when none is given.
const DefaultMaxDistance = 1.0

// MaxClockSkew is how far ahead of the server clock a fix may be stamped.
// A later stamp would pin the position store and block every real fix.
const MaxClockSkew = time.Minute

// AuthorityStore reads the authorities fixes are attributed to.
type AuthorityStore interface {
	GetAuthority(ctx context.Context, id int64) (models.Authority, error)
	GetActiveAuthorityForUser(ctx context.Context, userID int) (models.Authority, error)
	GetActiveAuthorities(ctx context.Context, ref models.TrackRef) ([]models.Authority, error)
}

// Archive keeps the GPS history.
type Archive interface {
	ArchiveFix(ctx context.Context, fix models.GPSFix) error
}

// Checker runs the synchronous per-fix alert checks.
type Checker interface {
	CheckFix(ctx context.Context, auth models.Authority, fix models.GPSFix) []models.AlertEvent
}

// UpdateResult is returned from Update.
type UpdateResult struct {
	AuthorityID int64               `json:"authority_id"`
	Milepost    *float64            `json:"milepost,omitempty"`
	Method      geo.Method          `json:"method,omitempty"`
	Alerts      []models.AlertEvent `json:"alerts"`
}

// NearbyWorker is another worker found by NearbyWorkers.
type NearbyWorker struct {
	UserID       int        `json:"user_id"`
	AuthorityID  int64      `json:"authority_id"`
	EmployeeName string     `json:"employee_name,omitempty"`
	Milepost     float64    `json:"milepost"`
	Distance     float64    `json:"distance"`
	Method       geo.Method `json:"method"`
	LastSeen     time.Time  `json:"last_seen"`
}

// Service attributes fixes to authorities and feeds the position store.
type Service struct {
	store     AuthorityStore
	archive   Archive
	locator   scanner.Locator
	checker   Checker
	positions *scanner.Positions
	settings  scanner.Settings
	logger    *logging.Logger
	now       func() time.Time
}

// NewService constructs a tracking Service.
func NewService(store AuthorityStore, archive Archive, locator scanner.Locator, checker Checker,
	positions *scanner.Positions, settings scanner.Settings, logger *logging.Logger) *Service {
	if settings.LookupTimeout <= 0 {
		settings.LookupTimeout = 2 * time.Second
	}
	return &Service{
		store:     store,
		archive:   archive,
		locator:   locator,
		checker:   checker,
		positions: positions,
		settings:  settings,
		logger:    logger,
		now:       time.Now,
	}
}

// Update validates fix, resolves its milepost on the worker's authority and
// returns the boundary and speed alerts it fired.
func (s *Service) Update(ctx context.Context, fix models.GPSFix) (UpdateResult, error) {
	if err := fix.Validate(); err != nil {
		return UpdateResult{}, err
	}
	now := s.now()
	if fix.Timestamp.IsZero() {
		fix.Timestamp = now
	}
	if ahead := fix.Timestamp.Sub(now); ahead > MaxClockSkew {
		return UpdateResult{}, errs.New(errs.KindValidation, "tracking.update",
			"fix timestamp is %s ahead of server time", ahead.Round(time.Second))
	}

	auth, err := s.resolveAuthority(ctx, fix)
	if err != nil {
		return UpdateResult{}, err
	}
	result := UpdateResult{AuthorityID: auth.ID, Alerts: []models.AlertEvent{}}
	fix.AuthorityID = &auth.ID
	fix.Milepost = nil

	lctx, cancel := context.WithTimeout(ctx, s.settings.LookupTimeout)
	in, err := s.locator.Interpolate(lctx, auth.TrackRef, fix.Latitude, fix.Longitude)
	cancel()
	switch {
	case err == nil:
		mp := in.Milepost
		fix.Milepost = &mp
		result.Milepost = &mp
		result.Method = in.Method
	case errs.Is(err, errs.KindNotFound):
		s.logger.Debugf("No geometry for %s, fix from user %d stored without milepost", auth.TrackRef, fix.UserID)
	default:
		return UpdateResult{}, fmt.Errorf("failed to interpolate fix for user %d: %w", fix.UserID, err)
	}

	if !s.positions.Put(fix) {
		s.logger.Debugf("Dropped out-of-order fix for user %d at %s", fix.UserID, fix.Timestamp.Format(time.RFC3339))
		return result, nil
	}
	if err := s.archive.ArchiveFix(ctx, fix); err != nil {
		s.logger.Warnf("Failed to archive fix for user %d: %v", fix.UserID, err)
	}

	result.Alerts = append(result.Alerts, s.checker.CheckFix(ctx, auth, fix)...)
	return result, nil
}

// Ingest handles a fix from the GPS stream.
func (s *Service) Ingest(ctx context.Context, fix models.GPSFix) error {
	_, err := s.Update(ctx, fix)
	return err
}

func (s *Service) resolveAuthority(ctx context.Context, fix models.GPSFix) (models.Authority, error) {
	if fix.AuthorityID == nil {
		a, err := s.store.GetActiveAuthorityForUser(ctx, fix.UserID)
		if errs.Is(err, errs.KindNotFound) {
			return models.Authority{}, errs.New(errs.KindNotFound, "tracking.update", "user %d has no active authority", fix.UserID)
		}
		return a, err
	}
	a, err := s.store.GetAuthority(ctx, *fix.AuthorityID)
	if err != nil {
		return models.Authority{}, err
	}
	if a.UserID != fix.UserID {
		return models.Authority{}, errs.New(errs.KindValidation, "tracking.update", "authority %d does not belong to user %d", a.ID, fix.UserID)
	}
	if !a.IsActive {
		return models.Authority{}, errs.New(errs.KindConflict, "tracking.update", "authority %d is not active", a.ID)
	}
	return a, nil
}

// NearbyWorkers lists workers on the authority's track whose latest fix lies
// within maxDistance miles of (lat, lon), nearest first.
func (s *Service) NearbyWorkers(ctx context.Context, authorityID int64, lat, lon, maxDistance float64) ([]NearbyWorker, error) {
	if err := models.ValidateCoordinates(lat, lon); err != nil {
		return nil, err
	}
	if maxDistance < 0 {
		return nil, errs.New(errs.KindValidation, "tracking.nearby", "max distance must be non-negative")
	}
	if maxDistance == 0 {
		maxDistance = DefaultMaxDistance
	}

	auth, err := s.store.GetAuthority(ctx, authorityID)
	if err != nil {
		return nil, err
	}
	lctx, cancel := context.WithTimeout(ctx, s.settings.LookupTimeout)
	defer cancel()

	origin, err := s.locator.Interpolate(lctx, auth.TrackRef, lat, lon)
	if err != nil {
		return nil, err
	}
	others, err := s.store.GetActiveAuthorities(lctx, auth.TrackRef)
	if err != nil {
		return nil, err
	}

	now := s.now()
	nearby := []NearbyWorker{}
	for _, o := range others {
		if o.UserID == auth.UserID {
			continue
		}
		fix, ok := s.positions.Get(o.UserID)
		if !ok || (s.settings.MaxFixAge > 0 && now.Sub(fix.Timestamp) > s.settings.MaxFixAge) {
			continue
		}
		mp, err := s.milepost(lctx, o, fix)
		if err != nil {
			s.logger.Debugf("Skipping user %d in proximity check: %v", o.UserID, err)
			continue
		}
		d, method, err := s.locator.TrackDistance(lctx, auth.TrackRef, origin.Milepost, mp)
		if err != nil {
			return nil, err
		}
		if d > maxDistance {
			continue
		}
		nearby = append(nearby, NearbyWorker{
			UserID:       o.UserID,
			AuthorityID:  o.ID,
			EmployeeName: o.EmployeeName,
			Milepost:     mp,
			Distance:     d,
			Method:       method,
			LastSeen:     fix.Timestamp,
		})
	}
	slices.SortFunc(nearby, func(a, b NearbyWorker) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	return nearby, nil
}

func (s *Service) milepost(ctx context.Context, a models.Authority, fix models.GPSFix) (float64, error) {
	if fix.Milepost != nil && fix.AuthorityID != nil && *fix.AuthorityID == a.ID {
		return *fix.Milepost, nil
	}
	in, err := s.locator.Interpolate(ctx, a.TrackRef, fix.Latitude, fix.Longitude)
	if err != nil {
		return 0, err
	}
	return in.Milepost, nil
}
