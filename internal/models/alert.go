package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AlertType names the alert variant.
type AlertType string

const (
	AlertBoundary  AlertType = "Boundary"
	AlertProximity AlertType = "Proximity"
	AlertOverlap   AlertType = "Overlap"
	AlertSpeed     AlertType = "Speed"
	AlertTime      AlertType = "Time"
)

// AlertDetails is implemented by each alert variant's detail payload.
type AlertDetails interface {
	AlertType() AlertType
}

// BoundaryDetails describes a worker approaching or leaving their own limits.
type BoundaryDetails struct {
	Milepost   float64 `json:"milepost"`
	Boundary   string  `json:"boundary"` // "begin" or "end"
	BoundaryMP float64 `json:"boundary_mp"`
	Method     string  `json:"method"`
	Outside    bool    `json:"outside"`
}

func (BoundaryDetails) AlertType() AlertType { return AlertBoundary }

// ProximityDetails describes two workers converging on the same track.
type ProximityDetails struct {
	CounterpartAuthorityID int64    `json:"counterpart_authority_id"`
	Milepost               *float64 `json:"milepost,omitempty"`
	CounterpartMilepost    *float64 `json:"counterpart_milepost,omitempty"`
	Method                 string   `json:"method"`
}

func (ProximityDetails) AlertType() AlertType { return AlertProximity }

// OverlapDetails describes an authority overlap, either at creation time or
// when workers inside overlapping authorities converge.
type OverlapDetails struct {
	OverlapID        *uuid.UUID      `json:"overlap_id,omitempty"`
	OtherAuthorityID int64           `json:"other_authority_id"`
	OverlapBeginMP   float64         `json:"overlap_begin_mp"`
	OverlapEndMP     float64         `json:"overlap_end_mp"`
	Severity         OverlapSeverity `json:"severity"`
}

func (OverlapDetails) AlertType() AlertType { return AlertOverlap }

// SpeedDetails describes a fix reported above the configured speed limit.
type SpeedDetails struct {
	SpeedMPH float64 `json:"speed_mph"`
	LimitMPH float64 `json:"limit_mph"`
}

func (SpeedDetails) AlertType() AlertType { return AlertSpeed }

// TimeDetails describes an authority nearing or past its expiration.
type TimeDetails struct {
	ExpiresAt        time.Time `json:"expires_at"`
	MinutesRemaining float64   `json:"minutes_remaining"`
}

func (TimeDetails) AlertType() AlertType { return AlertTime }

// DecodeDetails unmarshals raw JSON into the detail type matching t.
func DecodeDetails(t AlertType, raw []byte) (AlertDetails, error) {
	switch t {
	case AlertBoundary:
		return decodeDetails[BoundaryDetails](raw)
	case AlertProximity:
		return decodeDetails[ProximityDetails](raw)
	case AlertOverlap:
		return decodeDetails[OverlapDetails](raw)
	case AlertSpeed:
		return decodeDetails[SpeedDetails](raw)
	case AlertTime:
		return decodeDetails[TimeDetails](raw)
	}
	return nil, fmt.Errorf("unknown alert type %q", t)
}

func decodeDetails[T AlertDetails](raw []byte) (AlertDetails, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// AlertEvent is a fired notification. Type always matches Details.
type AlertEvent struct {
	ID                uuid.UUID    `json:"id"`
	Type              AlertType    `json:"type"`
	Level             Level        `json:"level"`
	AgencyID          int          `json:"agency_id"`
	SubjectUserID     int          `json:"subject_user_id"`
	CounterpartUserID *int         `json:"counterpart_user_id,omitempty"`
	AuthorityID       int64        `json:"authority_id"`
	Distance          *float64     `json:"distance,omitempty"`
	Message           string       `json:"message"`
	Details           AlertDetails `json:"details"`
	FiredAt           time.Time    `json:"fired_at"`
	DedupeKey         string       `json:"dedupe_key"`
	Read              bool         `json:"read"`
}

// NewAlertEvent builds an event whose Type is derived from details.
func NewAlertEvent(level Level, subjectUserID int, authorityID int64, details AlertDetails, firedAt time.Time) AlertEvent {
	return AlertEvent{
		ID:            uuid.New(),
		Type:          details.AlertType(),
		Level:         level,
		SubjectUserID: subjectUserID,
		AuthorityID:   authorityID,
		Details:       details,
		FiredAt:       firedAt,
	}
}

// UnmarshalJSON decodes Details according to Type.
func (e *AlertEvent) UnmarshalJSON(data []byte) error {
	type Alias AlertEvent
	aux := &struct {
		Details json.RawMessage `json:"details"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Details) == 0 || string(aux.Details) == "null" {
		e.Details = nil
		return nil
	}
	d, err := DecodeDetails(e.Type, aux.Details)
	if err != nil {
		return fmt.Errorf("invalid alert details: %w", err)
	}
	e.Details = d
	return nil
}

// AlertPayload is the socket/push delivery body.
type AlertPayload struct {
	Type      AlertType    `json:"type"`
	Level     Level        `json:"level"`
	Message   string       `json:"message"`
	Details   AlertDetails `json:"details"`
	Timestamp time.Time    `json:"timestamp"`
}

// Payload returns the delivery body for this event.
func (e AlertEvent) Payload() AlertPayload {
	return AlertPayload{
		Type:      e.Type,
		Level:     e.Level,
		Message:   e.Message,
		Details:   e.Details,
		Timestamp: e.FiredAt,
	}
}

// AlertStats summarises recent alerts for an agency.
type AlertStats struct {
	AgencyID int               `json:"agency_id"`
	Total    int               `json:"total"`
	Unread   int               `json:"unread"`
	ByType   map[AlertType]int `json:"by_type"`
	ByLevel  map[Level]int     `json:"by_level"`
}
