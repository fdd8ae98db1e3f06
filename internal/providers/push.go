package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
	"proximity-service/internal/config"
	"proximity-service/internal/models"
)

// ErrTokenNotRegistered means the push service no longer knows the token.
var ErrTokenNotRegistered = errors.New("push token not registered")

// sender is the part of messaging.Client the Pusher needs.
type sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Pusher sends alert payloads to device tokens through Firebase Cloud Messaging.
type Pusher struct {
	client sender
}

// NewPusher returns a Pusher, or nil when no credentials file is configured.
func NewPusher(ctx context.Context, cfg config.Config) (*Pusher, error) {
	if cfg.Push.CredentialsFile == "" {
		return nil, nil
	}
	return newFirebasePusher(ctx, cfg.Push.ProjectID, option.WithCredentialsFile(cfg.Push.CredentialsFile))
}

func newFirebasePusher(ctx context.Context, projectID string, opts ...option.ClientOption) (*Pusher, error) {
	var fbConfig *firebase.Config
	if projectID != "" {
		fbConfig = &firebase.Config{ProjectID: projectID}
	}
	app, err := firebase.NewApp(ctx, fbConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to init firebase messaging: %w", err)
	}
	return &Pusher{client: client}, nil
}

// Send delivers payload to one device token. Critical alerts go out at high
// priority on both Android and APNs.
func (p *Pusher) Send(ctx context.Context, token string, payload models.AlertPayload) error {
	message, err := pushMessage(token, payload)
	if err != nil {
		return err
	}
	if _, err := p.client.Send(ctx, message); err != nil {
		if messaging.IsUnregistered(err) || messaging.IsSenderIDMismatch(err) {
			return ErrTokenNotRegistered
		}
		return fmt.Errorf("failed to send push: %w", err)
	}
	return nil
}

func pushMessage(token string, payload models.AlertPayload) (*messaging.Message, error) {
	details, err := json.Marshal(payload.Details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push details: %w", err)
	}

	androidPriority, apnsPriority := "normal", "5"
	if payload.Level == models.LevelCritical {
		androidPriority, apnsPriority = "high", "10"
	}
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: fmt.Sprintf("%s %s alert", payload.Level, payload.Type),
			Body:  payload.Message,
		},
		// FCM data values must be strings.
		Data: map[string]string{
			"type":      string(payload.Type),
			"level":     string(payload.Level),
			"message":   payload.Message,
			"details":   string(details),
			"timestamp": payload.Timestamp.UTC().Format(time.RFC3339),
		},
		Android: &messaging.AndroidConfig{Priority: androidPriority},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": apnsPriority},
		},
	}, nil
}
