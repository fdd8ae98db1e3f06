package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertEvent_JSONKeepsVariant(t *testing.T) {
	firedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := NewAlertEvent(LevelCritical, 7, 42, BoundaryDetails{
		Milepost:   19.8,
		Boundary:   "end",
		BoundaryMP: 20,
		Method:     "track",
	}, firedAt)
	ev.Message = "approaching end of authority"

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded AlertEvent
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, AlertBoundary, decoded.Type)
	details, ok := decoded.Details.(BoundaryDetails)
	require.True(t, ok, "details decoded as %T", decoded.Details)
	assert.Equal(t, "end", details.Boundary)
	assert.Equal(t, 19.8, details.Milepost)
}

func TestDecodeDetails_UnknownType(t *testing.T) {
	_, err := DecodeDetails("Weather", []byte(`{}`))
	assert.Error(t, err)
}

func TestLevel_Severity(t *testing.T) {
	assert.Greater(t, LevelCritical.Severity(), LevelWarning.Severity())
	assert.Greater(t, LevelWarning.Severity(), LevelInformational.Severity())
	assert.Zero(t, Level("Unknown").Severity())
}

func TestValidateRange(t *testing.T) {
	ref := TrackRef{SubdivisionID: "VENTURA", TrackType: "Main", TrackNumber: "1"}
	assert.NoError(t, ValidateRange(ref, 10, 20))
	assert.Error(t, ValidateRange(ref, 20, 20))
	assert.Error(t, ValidateRange(ref, 21, 20))
	assert.Error(t, ValidateRange(TrackRef{SubdivisionID: "VENTURA"}, 1, 2))
}

func TestGPSFix_Validate(t *testing.T) {
	speed := -1.0
	tests := []struct {
		name  string
		fix   GPSFix
		valid bool
	}{
		{"ok", GPSFix{UserID: 1, Latitude: 34.2, Longitude: -119.2, Accuracy: 5}, true},
		{"no user", GPSFix{Latitude: 34.2, Longitude: -119.2}, false},
		{"latitude", GPSFix{UserID: 1, Latitude: 91, Longitude: 0}, false},
		{"longitude", GPSFix{UserID: 1, Latitude: 0, Longitude: -181}, false},
		{"accuracy", GPSFix{UserID: 1, Accuracy: -3}, false},
		{"speed", GPSFix{UserID: 1, Speed: &speed}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.fix.Validate()
			if test.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
