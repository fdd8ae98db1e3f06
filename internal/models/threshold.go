package models

import (
	"proximity-service/internal/errs"
)

// ConfigType selects which alert family a threshold applies to.
type ConfigType string

const (
	ConfigBoundary  ConfigType = "Boundary"
	ConfigProximity ConfigType = "Proximity"
	ConfigOverlap   ConfigType = "Overlap"
)

// ParseConfigType validates a config type name.
func ParseConfigType(s string) (ConfigType, error) {
	switch ct := ConfigType(s); ct {
	case ConfigBoundary, ConfigProximity, ConfigOverlap:
		return ct, nil
	}
	return "", errs.New(errs.KindValidation, "threshold", "unknown config type %q", s)
}

// Level is an alert severity.
type Level string

const (
	LevelInformational Level = "Informational"
	LevelWarning       Level = "Warning"
	LevelCritical      Level = "Critical"
)

// Severity ranks levels; higher is more severe. Unknown levels rank 0.
func (l Level) Severity() int {
	switch l {
	case LevelInformational:
		return 1
	case LevelWarning:
		return 2
	case LevelCritical:
		return 3
	}
	return 0
}

// AlertThreshold is one configured distance/level pair for an agency.
type AlertThreshold struct {
	AgencyID      int        `json:"agency_id"`
	ConfigType    ConfigType `json:"config_type"`
	Level         Level      `json:"level" binding:"required,oneof=Informational Warning Critical"`
	DistanceMiles float64    `json:"distance_miles"`
	Enabled       bool       `json:"enabled"`
}
