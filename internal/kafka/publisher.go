package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"proximity-service/internal/models"
)

// AlertMessage is the record published for each dispatched alert.
type AlertMessage struct {
	ID                string              `json:"id"`
	AgencyID          int                 `json:"agency_id"`
	SubjectUserID     int                 `json:"subject_user_id"`
	CounterpartUserID *int                `json:"counterpart_user_id,omitempty"`
	AuthorityID       int64               `json:"authority_id"`
	DedupeKey         string              `json:"dedupe_key"`
	Payload           models.AlertPayload `json:"payload"`
}

// NewAlertMessage builds the published record for ev.
func NewAlertMessage(ev models.AlertEvent) AlertMessage {
	return AlertMessage{
		ID:                ev.ID.String(),
		AgencyID:          ev.AgencyID,
		SubjectUserID:     ev.SubjectUserID,
		CounterpartUserID: ev.CounterpartUserID,
		AuthorityID:       ev.AuthorityID,
		DedupeKey:         ev.DedupeKey,
		Payload:           ev.Payload(),
	}
}

// Publisher writes alert messages to a topic, keyed by subject user so one
// user's alerts stay ordered within a partition.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher creates a Publisher for topic.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           50 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish writes ev to the alert topic.
func (p *Publisher) Publish(ctx context.Context, ev models.AlertEvent) error {
	value, err := json.Marshal(NewAlertMessage(ev))
	if err != nil {
		return fmt.Errorf("failed to encode alert message: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", ev.SubjectUserID)),
		Value: value,
		Time:  ev.FiredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish alert %s: %w", ev.ID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
