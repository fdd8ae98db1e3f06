// Package thresholds resolves per-agency alert distances and selects the
// alert level for a measured distance.
package thresholds

import (
	"context"
	"fmt"
	"slices"

	"proximity-service/internal/cache"
	"proximity-service/internal/config"
	"proximity-service/internal/errs"
	"proximity-service/internal/models"
)

// Store reads and replaces configured thresholds.
type Store interface {
	GetThresholds(ctx context.Context, agencyID int, configType models.ConfigType) ([]models.AlertThreshold, error)
	ReplaceThresholds(ctx context.Context, agencyID int, configType models.ConfigType, list []models.AlertThreshold) error
}

// Select returns the most severe enabled level whose distance is greater
// than the measured distance. A worker exactly on a threshold is outside it.
func Select(list []models.AlertThreshold, distance float64) (models.Level, bool) {
	var (
		best  models.Level
		found bool
	)
	for _, t := range list {
		if !t.Enabled || distance >= t.DistanceMiles {
			continue
		}
		if !found || t.Level.Severity() > best.Severity() {
			best, found = t.Level, true
		}
	}
	return best, found
}

// Validate checks a threshold set for one config type: known levels, no
// duplicates, non-negative distances, and Critical < Warning < Informational
// among enabled entries.
func Validate(list []models.AlertThreshold) error {
	seen := make(map[models.Level]bool)
	for _, t := range list {
		if t.Level.Severity() == 0 {
			return errs.New(errs.KindValidation, "thresholds", "unknown level %q", t.Level)
		}
		if seen[t.Level] {
			return errs.New(errs.KindValidation, "thresholds", "duplicate level %q", t.Level)
		}
		seen[t.Level] = true
		if t.DistanceMiles < 0 {
			return errs.New(errs.KindValidation, "thresholds", "%s distance must be non-negative", t.Level)
		}
	}

	enabled := slices.DeleteFunc(slices.Clone(list), func(t models.AlertThreshold) bool { return !t.Enabled })
	slices.SortFunc(enabled, func(a, b models.AlertThreshold) int {
		return b.Level.Severity() - a.Level.Severity()
	})
	for i := 1; i < len(enabled); i++ {
		if enabled[i].DistanceMiles <= enabled[i-1].DistanceMiles {
			return errs.New(errs.KindValidation, "thresholds",
				"%s distance %.2f must be greater than %s distance %.2f",
				enabled[i].Level, enabled[i].DistanceMiles, enabled[i-1].Level, enabled[i-1].DistanceMiles)
		}
	}
	return nil
}

// Defaults builds the fallback set for a config type from configuration.
func Defaults(cfg config.Config, agencyID int, configType models.ConfigType) []models.AlertThreshold {
	var d config.LevelDistances
	switch configType {
	case models.ConfigBoundary:
		d = cfg.Defaults.Boundary
	case models.ConfigProximity:
		d = cfg.Defaults.Proximity
	case models.ConfigOverlap:
		d = cfg.Defaults.Overlap
	}
	return []models.AlertThreshold{
		{AgencyID: agencyID, ConfigType: configType, Level: models.LevelInformational, DistanceMiles: d.Informational, Enabled: true},
		{AgencyID: agencyID, ConfigType: configType, Level: models.LevelWarning, DistanceMiles: d.Warning, Enabled: true},
		{AgencyID: agencyID, ConfigType: configType, Level: models.LevelCritical, DistanceMiles: d.Critical, Enabled: true},
	}
}

type key struct {
	agencyID   int
	configType models.ConfigType
}

// Resolver serves thresholds through a cache and falls back to configured
// defaults when an agency has none.
type Resolver struct {
	store Store
	cfg   config.Config
	cache *cache.Cache[key, []models.AlertThreshold]
}

// NewResolver constructs a Resolver; cached entries live for cfg.Cache.TTL.
func NewResolver(store Store, cfg config.Config) *Resolver {
	return &Resolver{
		store: store,
		cfg:   cfg,
		cache: cache.New[key, []models.AlertThreshold](cfg.Cache.TTL, cache.WithMaxSize(4096)),
	}
}

// GetThresholds returns the thresholds for an agency and config type.
func (r *Resolver) GetThresholds(ctx context.Context, agencyID int, configType models.ConfigType) ([]models.AlertThreshold, error) {
	return r.cache.GetOrLoad(key{agencyID, configType}, func() ([]models.AlertThreshold, error) {
		list, err := r.store.GetThresholds(ctx, agencyID, configType)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s thresholds for agency %d: %w", configType, agencyID, err)
		}
		if len(list) == 0 {
			return Defaults(r.cfg, agencyID, configType), nil
		}
		return list, nil
	})
}

// Update validates and stores a new threshold set, invalidating the cache.
func (r *Resolver) Update(ctx context.Context, agencyID int, configType models.ConfigType, list []models.AlertThreshold) ([]models.AlertThreshold, error) {
	normalized := make([]models.AlertThreshold, len(list))
	for i, t := range list {
		t.AgencyID = agencyID
		t.ConfigType = configType
		normalized[i] = t
	}
	if err := Validate(normalized); err != nil {
		return nil, err
	}
	if err := r.store.ReplaceThresholds(ctx, agencyID, configType, normalized); err != nil {
		return nil, fmt.Errorf("failed to store thresholds: %w", err)
	}
	r.cache.Delete(key{agencyID, configType})
	return normalized, nil
}
