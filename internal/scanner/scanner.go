// Package scanner runs the periodic proximity loop: it evaluates every
// active authority's latest position against its limits and against the
// other workers on the same track, and raises each threshold crossing once.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"proximity-service/internal/config"
	"proximity-service/internal/errs"
	"proximity-service/internal/geo"
	"proximity-service/internal/logging"
	"proximity-service/internal/models"
	"proximity-service/internal/overlap"
	"proximity-service/internal/thresholds"
)

// AuthoritySource lists active authorities; a zero ref means all of them.
type AuthoritySource interface {
	GetActiveAuthorities(ctx context.Context, ref models.TrackRef) ([]models.Authority, error)
}

// ThresholdSource supplies per-agency alert distances.
type ThresholdSource interface {
	GetThresholds(ctx context.Context, agencyID int, configType models.ConfigType) ([]models.AlertThreshold, error)
}

// Locator maps positions onto track mileposts and measures along the track.
type Locator interface {
	Interpolate(ctx context.Context, ref models.TrackRef, lat, lon float64) (geo.Interpolation, error)
	TrackDistance(ctx context.Context, ref models.TrackRef, mp1, mp2 float64) (float64, geo.Method, error)
}

// Dispatcher persists and delivers a fired alert without waiting on delivery.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev models.AlertEvent) error
}

// Settings controls the scan loop.
type Settings struct {
	Interval      time.Duration
	MaxFixAge     time.Duration
	LookupTimeout time.Duration
	LockTimeout   time.Duration
	Workers       int
	ExpiryWarning time.Duration
	MaxSpeedMPH   float64
}

// SettingsFrom extracts scanner settings from the application config.
func SettingsFrom(cfg config.Config) Settings {
	return Settings{
		Interval:      cfg.Scanner.Interval,
		MaxFixAge:     cfg.Scanner.MaxFixAge,
		LookupTimeout: cfg.Scanner.LookupTimeout,
		LockTimeout:   cfg.Scanner.LockTimeout,
		Workers:       cfg.Scanner.Workers,
		ExpiryWarning: cfg.Scanner.ExpiryWarning,
		MaxSpeedMPH:   cfg.Scanner.MaxSpeedMPH,
	}
}

// Deps are the collaborators a Scanner reads from and writes to.
type Deps struct {
	Authorities AuthoritySource
	Thresholds  ThresholdSource
	Locator     Locator
	Dispatcher  Dispatcher
	Positions   *Positions
}

// Stats is a lock-free view of scanner activity.
type Stats struct {
	Running          bool          `json:"running"`
	Ticks            int64         `json:"ticks"`
	EventsFired      int64         `json:"events_fired"`
	ActiveConditions int           `json:"active_conditions"`
	TrackedPositions int           `json:"tracked_positions"`
	LastTickDuration time.Duration `json:"last_tick_duration_ns"`
	LastTickAt       *time.Time    `json:"last_tick_at,omitempty"`
}

// Scanner evaluates live positions on a fixed interval.
type Scanner struct {
	deps     Deps
	dedupe   *Dedupe
	settings Settings
	logger   *logging.Logger
	now      func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	running atomic.Bool

	ticks        atomic.Int64
	fired        atomic.Int64
	lastTickNano atomic.Int64
	lastTickAt   atomic.Int64
}

// New constructs a Scanner.
func New(deps Deps, settings Settings, logger *logging.Logger) *Scanner {
	if settings.Workers <= 0 {
		settings.Workers = 1
	}
	if deps.Positions == nil {
		deps.Positions = NewPositions()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scanner{
		deps:     deps,
		dedupe:   NewDedupe(settings.LockTimeout),
		settings: settings,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Positions exposes the latest-fix store written by GPS ingestion.
func (s *Scanner) Positions() *Positions {
	return s.deps.Positions
}

// Start launches the scan loop.
func (s *Scanner) Start(wg *sync.WaitGroup) {
	s.wg = wg
	s.wg.Add(1)
	s.running.Store(true)
	go s.run()
}

// Stop ends the loop after any in-flight tick finishes.
func (s *Scanner) Stop() {
	s.cancel()
}

func (s *Scanner) run() {
	defer s.wg.Done()
	defer s.running.Store(false)

	ticker := time.NewTicker(s.settings.Interval)
	defer ticker.Stop()
	s.logger.Infof("Proximity scanner started (interval %s)", s.settings.Interval)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Infof("Proximity scanner stopped")
			return
		case <-ticker.C:
			// The tick runs to completion even if Stop is called meanwhile.
			s.Tick(context.WithoutCancel(s.ctx))
		}
	}
}

// Stats returns current counters.
func (s *Scanner) Stats() Stats {
	st := Stats{
		Running:          s.running.Load(),
		Ticks:            s.ticks.Load(),
		EventsFired:      s.fired.Load(),
		ActiveConditions: s.dedupe.Active(),
		TrackedPositions: s.deps.Positions.Len(),
		LastTickDuration: time.Duration(s.lastTickNano.Load()),
	}
	if at := s.lastTickAt.Load(); at != 0 {
		t := time.Unix(0, at)
		st.LastTickAt = &t
	}
	return st
}

// located is an authority whose holder has a fresh position. mp is nil
// when the track has no geometry to map the fix onto.
type located struct {
	auth models.Authority
	fix  models.GPSFix
	mp   *float64
}

// Tick performs one full scan and returns the alerts it fired.
func (s *Scanner) Tick(ctx context.Context) []models.AlertEvent {
	start := s.now()
	defer func() {
		s.ticks.Add(1)
		s.lastTickNano.Store(int64(s.now().Sub(start)))
		s.lastTickAt.Store(start.UnixNano())
	}()

	snapshot := s.deps.Positions.Snapshot()

	lctx, cancel := context.WithTimeout(ctx, s.settings.LookupTimeout)
	auths, err := s.deps.Authorities.GetActiveAuthorities(lctx, models.TrackRef{})
	cancel()
	if err != nil {
		s.logger.Errorf("Scan tick skipped, failed to load active authorities: %v", err)
		return nil
	}

	positions := s.locateAll(ctx, auths, snapshot, start)

	var events []models.AlertEvent
	for _, a := range auths {
		if ev, ok := s.checkTime(ctx, a, start); ok {
			events = append(events, ev)
		}
	}
	for _, p := range positions {
		if p.mp != nil {
			events = append(events, s.checkPosition(ctx, p.auth, p.fix, *p.mp, start)...)
		} else if ev, ok := s.checkSpeed(ctx, p.auth, p.fix, start); ok {
			events = append(events, ev)
		}
	}
	events = append(events, s.checkPairs(ctx, positions, start)...)

	s.prune(ctx, auths)

	for _, ev := range events {
		if err := s.deps.Dispatcher.Dispatch(ctx, ev); err != nil {
			s.logger.Errorf("Dispatch of %s alert for user %d failed: %v", ev.Type, ev.SubjectUserID, err)
		}
	}
	s.fired.Add(int64(len(events)))
	if len(events) > 0 {
		s.logger.Infof("Scan tick fired %d alerts across %d authorities", len(events), len(auths))
	}
	return events
}

// CheckFix evaluates boundary and speed conditions for a freshly ingested
// fix. It shares dedupe state with the loop, so a crossing fires once
// whichever path sees it first.
func (s *Scanner) CheckFix(ctx context.Context, auth models.Authority, fix models.GPSFix) []models.AlertEvent {
	if fix.Milepost == nil {
		return nil
	}
	events := s.checkPosition(ctx, auth, fix, *fix.Milepost, s.now())
	for _, ev := range events {
		if err := s.deps.Dispatcher.Dispatch(ctx, ev); err != nil {
			s.logger.Errorf("Dispatch of %s alert for user %d failed: %v", ev.Type, ev.SubjectUserID, err)
		}
	}
	s.fired.Add(int64(len(events)))
	return events
}

// Forget clears every condition involving userID, e.g. when their authority ends.
func (s *Scanner) Forget(ctx context.Context, userID int) {
	err := s.dedupe.Retain(ctx, func(k Key) bool {
		return k.Subject != userID && k.Counterpart != userID
	})
	if err != nil {
		s.logger.Warnf("Could not clear alert state for user %d: %v", userID, err)
	}
}

func (s *Scanner) locateAll(ctx context.Context, auths []models.Authority, snapshot map[int]models.GPSFix, now time.Time) []located {
	results := make([]*located, len(auths))

	var g errgroup.Group
	g.SetLimit(s.settings.Workers)
	for i, a := range auths {
		i, a := i, a
		fix, ok := snapshot[a.UserID]
		if !ok {
			s.logger.Debugf("Authority %d skipped: no position for user %d", a.ID, a.UserID)
			continue
		}
		if age := now.Sub(fix.Timestamp); s.settings.MaxFixAge > 0 && age > s.settings.MaxFixAge {
			s.logger.WithField("kind", errs.KindStale).Debugf("Authority %d skipped: fix for user %d is %s old", a.ID, a.UserID, age.Round(time.Second))
			continue
		}
		g.Go(func() error {
			mp, err := s.milepost(ctx, a, fix)
			if err != nil {
				switch errs.KindOf(err) {
				case errs.KindTimeout:
					s.logger.Warnf("Authority %d skipped: milepost lookup timed out: %v", a.ID, err)
				case errs.KindNotFound:
					// Still a proximity candidate, measured in a straight line.
					s.logger.Debugf("Authority %d has no milepost: %v", a.ID, err)
					results[i] = &located{auth: a, fix: fix}
				default:
					s.logger.Errorf("Authority %d skipped: milepost lookup failed: %v", a.ID, err)
				}
				return nil
			}
			results[i] = &located{auth: a, fix: fix, mp: &mp}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]located, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (s *Scanner) milepost(ctx context.Context, a models.Authority, fix models.GPSFix) (float64, error) {
	if fix.Milepost != nil && fix.AuthorityID != nil && *fix.AuthorityID == a.ID {
		return *fix.Milepost, nil
	}
	lctx, cancel := context.WithTimeout(ctx, s.settings.LookupTimeout)
	defer cancel()
	in, err := s.deps.Locator.Interpolate(lctx, a.TrackRef, fix.Latitude, fix.Longitude)
	if err != nil {
		return 0, err
	}
	return in.Milepost, nil
}

func (s *Scanner) trackDistance(ctx context.Context, ref models.TrackRef, mp1, mp2 float64) (float64, geo.Method, error) {
	lctx, cancel := context.WithTimeout(ctx, s.settings.LookupTimeout)
	defer cancel()
	return s.deps.Locator.TrackDistance(lctx, ref, mp1, mp2)
}

func (s *Scanner) levelFor(ctx context.Context, agencyID int, ct models.ConfigType, distance float64) (models.Level, bool, error) {
	lctx, cancel := context.WithTimeout(ctx, s.settings.LookupTimeout)
	defer cancel()
	list, err := s.deps.Thresholds.GetThresholds(lctx, agencyID, ct)
	if err != nil {
		return "", false, err
	}
	level, ok := thresholds.Select(list, distance)
	return level, ok, nil
}

// transition applies next to key and reports whether a new alert fires.
// Lock timeouts skip the key for this tick.
func (s *Scanner) transition(ctx context.Context, key Key, next *Condition) bool {
	fire, err := s.dedupe.Transition(ctx, key, next)
	if err != nil {
		s.logger.Warnf("Alert state %s skipped this tick: %v", key, err)
		return false
	}
	return fire
}

// checkPosition evaluates the holder's own limits and speed.
func (s *Scanner) checkPosition(ctx context.Context, a models.Authority, fix models.GPSFix, mp float64, now time.Time) []models.AlertEvent {
	var events []models.AlertEvent
	if ev, ok := s.checkBoundary(ctx, a, mp, now); ok {
		events = append(events, ev)
	}
	if ev, ok := s.checkSpeed(ctx, a, fix, now); ok {
		events = append(events, ev)
	}
	return events
}

func (s *Scanner) checkBoundary(ctx context.Context, a models.Authority, mp float64, now time.Time) (models.AlertEvent, bool) {
	key := Key{Subject: a.UserID, Type: models.AlertBoundary}

	distBegin, methodBegin, err := s.trackDistance(ctx, a.TrackRef, mp, a.BeginMP)
	if err != nil {
		s.logger.Warnf("Boundary check for authority %d skipped: %v", a.ID, err)
		return models.AlertEvent{}, false
	}
	distEnd, methodEnd, err := s.trackDistance(ctx, a.TrackRef, mp, a.EndMP)
	if err != nil {
		s.logger.Warnf("Boundary check for authority %d skipped: %v", a.ID, err)
		return models.AlertEvent{}, false
	}

	details := models.BoundaryDetails{Milepost: mp, Boundary: "begin", BoundaryMP: a.BeginMP, Method: string(methodBegin)}
	distance := distBegin
	if distEnd < distBegin || (distEnd == distBegin && mp > a.EndMP) {
		details.Boundary, details.BoundaryMP, details.Method = "end", a.EndMP, string(methodEnd)
		distance = distEnd
	}

	var next *Condition
	if !a.Contains(mp) {
		details.Outside = true
		next = &Condition{Level: models.LevelCritical, Outside: true}
	} else {
		level, ok, err := s.levelFor(ctx, a.AgencyID, models.ConfigBoundary, distance)
		if err != nil {
			s.logger.Warnf("Boundary check for authority %d skipped: %v", a.ID, err)
			return models.AlertEvent{}, false
		}
		if ok {
			next = &Condition{Level: level}
		}
	}

	if !s.transition(ctx, key, next) {
		return models.AlertEvent{}, false
	}

	ev := models.NewAlertEvent(next.Level, a.UserID, a.ID, details, now)
	ev.AgencyID = a.AgencyID
	ev.Distance = &distance
	ev.DedupeKey = key.String()
	if details.Outside {
		ev.Message = fmt.Sprintf("Outside authority limits: MP %.2f is %.2f mi beyond the %s limit (MP %.2f)",
			mp, distance, details.Boundary, details.BoundaryMP)
	} else {
		ev.Message = fmt.Sprintf("%s: %.2f mi from the %s limit of your authority (MP %.2f)",
			next.Level, distance, details.Boundary, details.BoundaryMP)
	}
	return ev, true
}

func (s *Scanner) checkSpeed(ctx context.Context, a models.Authority, fix models.GPSFix, now time.Time) (models.AlertEvent, bool) {
	if s.settings.MaxSpeedMPH <= 0 || fix.Speed == nil {
		return models.AlertEvent{}, false
	}
	key := Key{Subject: a.UserID, Type: models.AlertSpeed}
	var next *Condition
	if *fix.Speed > s.settings.MaxSpeedMPH {
		next = &Condition{Level: models.LevelWarning}
	}
	if !s.transition(ctx, key, next) {
		return models.AlertEvent{}, false
	}
	ev := models.NewAlertEvent(next.Level, a.UserID, a.ID, models.SpeedDetails{SpeedMPH: *fix.Speed, LimitMPH: s.settings.MaxSpeedMPH}, now)
	ev.AgencyID = a.AgencyID
	ev.DedupeKey = key.String()
	ev.Message = fmt.Sprintf("Speed %.0f mph exceeds the %.0f mph limit", *fix.Speed, s.settings.MaxSpeedMPH)
	return ev, true
}

func (s *Scanner) checkTime(ctx context.Context, a models.Authority, now time.Time) (models.AlertEvent, bool) {
	if a.ExpirationTime == nil || s.settings.ExpiryWarning <= 0 {
		return models.AlertEvent{}, false
	}
	key := Key{Subject: a.UserID, Type: models.AlertTime}
	remaining := a.ExpirationTime.Sub(now)

	var next *Condition
	switch {
	case remaining <= 0:
		next = &Condition{Level: models.LevelCritical}
	case remaining <= s.settings.ExpiryWarning:
		next = &Condition{Level: models.LevelWarning}
	}
	if !s.transition(ctx, key, next) {
		return models.AlertEvent{}, false
	}

	details := models.TimeDetails{ExpiresAt: *a.ExpirationTime, MinutesRemaining: remaining.Minutes()}
	ev := models.NewAlertEvent(next.Level, a.UserID, a.ID, details, now)
	ev.AgencyID = a.AgencyID
	ev.DedupeKey = key.String()
	if remaining <= 0 {
		ev.Message = fmt.Sprintf("Authority %d expired at %s", a.ID, a.ExpirationTime.Format(time.Kitchen))
	} else {
		ev.Message = fmt.Sprintf("Authority %d expires in %.0f minutes", a.ID, remaining.Minutes())
	}
	return ev, true
}

// checkPairs evaluates every pair of located workers sharing a track. Pairs
// whose authorities overlap are graded with Overlap thresholds.
func (s *Scanner) checkPairs(ctx context.Context, positions []located, now time.Time) []models.AlertEvent {
	byTrack := make(map[models.TrackRef][]located)
	for _, p := range positions {
		byTrack[p.auth.TrackRef] = append(byTrack[p.auth.TrackRef], p)
	}

	var events []models.AlertEvent
	for ref, group := range byTrack {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if a.auth.UserID == b.auth.UserID {
					continue
				}
				distance, method, err := s.pairDistance(ctx, ref, a, b)
				if err != nil {
					s.logger.Warnf("Proximity check %d/%d skipped: %v", a.auth.ID, b.auth.ID, err)
					continue
				}
				if ev, ok := s.checkPair(ctx, a, b, distance, method, now); ok {
					events = append(events, ev)
				}
				if ev, ok := s.checkPair(ctx, b, a, distance, method, now); ok {
					events = append(events, ev)
				}
			}
		}
	}
	return events
}

// pairDistance measures along the track when both workers have a milepost
// and falls back to the great-circle distance between their fixes.
func (s *Scanner) pairDistance(ctx context.Context, ref models.TrackRef, a, b located) (float64, geo.Method, error) {
	if a.mp != nil && b.mp != nil {
		return s.trackDistance(ctx, ref, *a.mp, *b.mp)
	}
	d := geo.GPSDistance(a.fix.Latitude, a.fix.Longitude, b.fix.Latitude, b.fix.Longitude)
	return geo.Round2(d), geo.MethodStraightLine, nil
}

func (s *Scanner) checkPair(ctx context.Context, subject, other located, distance float64, method geo.Method, now time.Time) (models.AlertEvent, bool) {
	configType := models.ConfigProximity
	alertType := models.AlertProximity
	begin, end, overlapping := overlap.Intersect(subject.auth.BeginMP, subject.auth.EndMP, other.auth.BeginMP, other.auth.EndMP)
	if overlapping {
		configType = models.ConfigOverlap
		alertType = models.AlertOverlap
	}
	key := Key{Subject: subject.auth.UserID, Counterpart: other.auth.UserID, Type: alertType}

	level, ok, err := s.levelFor(ctx, subject.auth.AgencyID, configType, distance)
	if err != nil {
		s.logger.Warnf("Proximity check %d/%d skipped: %v", subject.auth.ID, other.auth.ID, err)
		return models.AlertEvent{}, false
	}
	var next *Condition
	if ok {
		next = &Condition{Level: level}
	}
	if !s.transition(ctx, key, next) {
		return models.AlertEvent{}, false
	}

	var details models.AlertDetails
	if overlapping {
		details = models.OverlapDetails{
			OtherAuthorityID: other.auth.ID,
			OverlapBeginMP:   begin,
			OverlapEndMP:     end,
			Severity:         overlap.ClassifySeverity(end - begin),
		}
	} else {
		details = models.ProximityDetails{
			CounterpartAuthorityID: other.auth.ID,
			Milepost:               subject.mp,
			CounterpartMilepost:    other.mp,
			Method:                 string(method),
		}
	}

	counterpart := other.auth.UserID
	ev := models.NewAlertEvent(level, subject.auth.UserID, subject.auth.ID, details, now)
	ev.AgencyID = subject.auth.AgencyID
	ev.CounterpartUserID = &counterpart
	ev.Distance = &distance
	ev.DedupeKey = key.String()
	name := other.auth.EmployeeName
	if name == "" {
		name = fmt.Sprintf("user %d", other.auth.UserID)
	}
	if overlapping {
		ev.Message = fmt.Sprintf("%s: %s is %.2f mi away inside your overlapping authority (MP %.2f-%.2f)",
			level, name, distance, begin, end)
	} else if other.mp != nil {
		ev.Message = fmt.Sprintf("%s: %s is %.2f mi away on %s (MP %.2f)", level, name, distance, subject.auth.TrackRef, *other.mp)
	} else {
		ev.Message = fmt.Sprintf("%s: %s is %.2f mi away on %s", level, name, distance, subject.auth.TrackRef)
	}
	return ev, true
}

// prune drops conditions for users who no longer hold an active authority.
func (s *Scanner) prune(ctx context.Context, auths []models.Authority) {
	active := make(map[int]bool, len(auths))
	for _, a := range auths {
		active[a.UserID] = true
	}
	err := s.dedupe.Retain(ctx, func(k Key) bool {
		return active[k.Subject] && (k.Counterpart == 0 || active[k.Counterpart])
	})
	if err != nil {
		s.logger.Debugf("Alert state prune deferred: %v", err)
	}
}
