package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"proximity-service/internal/errs"
	"proximity-service/internal/logging"
	"proximity-service/internal/models"
)

type recordingHandler struct {
	fixes []models.GPSFix
	err   error
}

func (r *recordingHandler) Ingest(_ context.Context, fix models.GPSFix) error {
	r.fixes = append(r.fixes, fix)
	return r.err
}

func TestDecodeFix(t *testing.T) {
	tests := []struct {
		name  string
		value string
		kind  errs.Kind
	}{
		{"valid", `{"user_id":7,"latitude":34.28,"longitude":-119.29,"accuracy":4,"timestamp":"2024-05-01T09:00:00Z"}`, ""},
		{"malformed", `{"user_id":`, errs.KindValidation},
		{"bad latitude", `{"user_id":7,"latitude":134.28,"longitude":-119.29}`, errs.KindValidation},
		{"no user", `{"latitude":34.28,"longitude":-119.29}`, errs.KindValidation},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			fix, err := DecodeFix([]byte(test.value))
			if test.kind == "" {
				require.NoError(t, err)
				assert.Equal(t, 7, fix.UserID)
				assert.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), fix.Timestamp.UTC())
				return
			}
			assert.Equal(t, test.kind, errs.KindOf(err))
		})
	}
}

func TestDecodeFix_StampsMissingTimestamp(t *testing.T) {
	before := time.Now()
	fix, err := DecodeFix([]byte(`{"user_id":7,"latitude":34.28,"longitude":-119.29}`))
	require.NoError(t, err)
	assert.False(t, fix.Timestamp.Before(before))
}

func TestConsumer_HandleSkipsBadMessages(t *testing.T) {
	handler := &recordingHandler{}
	c := &Consumer{handler: handler, logger: logging.Discard(), ctx: context.Background()}

	c.handle(kafka.Message{Value: []byte(`not json`)})
	c.handle(kafka.Message{Value: []byte(`{"user_id":7,"latitude":34.28,"longitude":-119.29}`)})

	require.Len(t, handler.fixes, 1)
	assert.Equal(t, 7, handler.fixes[0].UserID)

	handler.err = errs.New(errs.KindNotFound, "tracking", "no active authority")
	c.handle(kafka.Message{Value: []byte(`{"user_id":8,"latitude":34.28,"longitude":-119.29}`)})
	assert.Len(t, handler.fixes, 2)
}

func TestNewAlertMessage(t *testing.T) {
	counterpart := 8
	ev := models.NewAlertEvent(models.LevelWarning, 7, 100, models.ProximityDetails{CounterpartAuthorityID: 200}, time.Now())
	ev.AgencyID = 3
	ev.CounterpartUserID = &counterpart
	ev.DedupeKey = "7|8|Proximity"
	ev.Message = "Warning: user 8 is 0.40 mi away"

	data, err := json.Marshal(NewAlertMessage(ev))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ev.ID.String(), decoded["id"])
	assert.Equal(t, "7|8|Proximity", decoded["dedupe_key"])
	payload := decoded["payload"].(map[string]any)
	assert.Equal(t, "Proximity", payload["type"])
	assert.Equal(t, "Warning", payload["level"])
}
