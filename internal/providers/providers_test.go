package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"proximity-service/internal/config"
	"proximity-service/internal/models"
	"proximity-service/pkg/email"
)

type fakeSender struct {
	sent []*messaging.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, message *messaging.Message) (string, error) {
	f.sent = append(f.sent, message)
	if f.err != nil {
		return "", f.err
	}
	return "projects/rail/messages/1", nil
}

func payload(level models.Level) models.AlertPayload {
	return models.AlertPayload{
		Type:      models.AlertBoundary,
		Level:     level,
		Message:   "0.20 mi from the end limit",
		Details:   models.BoundaryDetails{Milepost: 19.8, Boundary: "end", BoundaryMP: 20},
		Timestamp: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestPusher_Send(t *testing.T) {
	fake := &fakeSender{}
	p := &Pusher{client: fake}

	require.NoError(t, p.Send(context.Background(), "tok-1", payload(models.LevelCritical)))
	require.Len(t, fake.sent, 1)
	msg := fake.sent[0]
	assert.Equal(t, "tok-1", msg.Token)
	assert.Equal(t, "Critical Boundary alert", msg.Notification.Title)
	assert.Equal(t, "high", msg.Android.Priority)
	assert.Equal(t, "10", msg.APNS.Headers["apns-priority"])
	assert.Equal(t, "Critical", msg.Data["level"])
	assert.Equal(t, "2024-05-01T09:00:00Z", msg.Data["timestamp"])
	assert.Contains(t, msg.Data["details"], `"boundary":"end"`)
}

func TestPusher_NormalPriorityBelowCritical(t *testing.T) {
	fake := &fakeSender{}
	p := &Pusher{client: fake}

	require.NoError(t, p.Send(context.Background(), "tok", payload(models.LevelWarning)))
	assert.Equal(t, "normal", fake.sent[0].Android.Priority)
	assert.Equal(t, "5", fake.sent[0].APNS.Headers["apns-priority"])
}

func TestPusher_Errors(t *testing.T) {
	p := &Pusher{client: &fakeSender{err: errors.New("unavailable")}}
	err := p.Send(context.Background(), "tok", payload(models.LevelWarning))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTokenNotRegistered))
	assert.Contains(t, err.Error(), "unavailable")
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// fcmPusher wires a real messaging client to a canned FCM response.
func fcmPusher(t *testing.T, status int, body string) *Pusher {
	t.Helper()
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		assert.Contains(t, r.URL.Path, "/projects/rail/messages:send")
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	})}
	p, err := newFirebasePusher(context.Background(), "rail", option.WithHTTPClient(client))
	require.NoError(t, err)
	return p
}

func TestPusher_FCMResponses(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    bool
		unregister bool
	}{
		{"delivered", http.StatusOK, `{"name":"projects/rail/messages/1"}`, false, false},
		{"unregistered", http.StatusNotFound, `{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND",` +
			`"details":[{"@type":"type.googleapis.com/google.firebase.fcm.v1.FcmError","errorCode":"UNREGISTERED"}]}}`, true, true},
		{"invalid argument", http.StatusBadRequest, `{"error":{"code":400,"message":"bad payload","status":"INVALID_ARGUMENT",` +
			`"details":[{"@type":"type.googleapis.com/google.firebase.fcm.v1.FcmError","errorCode":"INVALID_ARGUMENT"}]}}`, true, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := fcmPusher(t, test.status, test.body)
			err := p.Send(context.Background(), "tok", payload(models.LevelCritical))
			if !test.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, test.unregister, errors.Is(err, ErrTokenNotRegistered))
		})
	}
}

func TestNewPusher_DisabledWithoutCredentials(t *testing.T) {
	p, err := NewPusher(context.Background(), config.Config{})
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestMailer_Send(t *testing.T) {
	var cfg config.Config
	cfg.Email.SMTPServer = "smtp.rail.example"
	cfg.Email.SMTPPort = 587
	cfg.Email.Username = "alerts@rail.example"
	cfg.Email.FromName = "Proximity Alerts"

	m := NewMailer(cfg)
	require.NotNil(t, m)

	var got email.Message
	m.send = func(server string, port int, _, _ string, msg email.Message) error {
		assert.Equal(t, "smtp.rail.example", server)
		assert.Equal(t, 587, port)
		got = msg
		return nil
	}

	require.NoError(t, m.Send(context.Background(), []string{"sup@rail.example"}, "Overlap", "body"))
	assert.Equal(t, "alerts@rail.example", got.From.Address)
	assert.Equal(t, []string{"sup@rail.example"}, got.To)

	assert.Error(t, m.Send(context.Background(), nil, "Overlap", "body"))

	m.send = func(string, int, string, string, email.Message) error { return errors.New("relay down") }
	assert.ErrorContains(t, m.Send(context.Background(), []string{"sup@rail.example"}, "Overlap", "body"), "relay down")
}

func TestNewMailer_DisabledWithoutServer(t *testing.T) {
	assert.Nil(t, NewMailer(config.Config{}))
}
