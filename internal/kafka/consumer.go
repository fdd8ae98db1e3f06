package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"proximity-service/internal/errs"
	"proximity-service/internal/logging"
	"proximity-service/internal/models"
)

// FixHandler ingests one GPS fix.
type FixHandler interface {
	Ingest(ctx context.Context, fix models.GPSFix) error
}

// Consumer reads GPS fixes from a topic and hands them to a FixHandler.
type Consumer struct {
	reader  *kafka.Reader
	handler FixHandler
	logger  *logging.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewConsumer creates a consumer for topic in groupID.
func NewConsumer(brokers []string, topic, groupID string, handler FixHandler, logger *logging.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  time.Second,
		}),
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start consumes until Close is called.
func (c *Consumer) Start(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Infof("Kafka consumer started on topic %s", c.reader.Config().Topic)
		for {
			msg, err := c.reader.ReadMessage(c.ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					c.logger.Infof("Kafka consumer stopped")
					return
				}
				c.logger.Errorf("Read message failed: %v", err)
				continue
			}
			c.handle(msg)
		}
	}()
}

func (c *Consumer) handle(msg kafka.Message) {
	fix, err := DecodeFix(msg.Value)
	if err != nil {
		c.logger.Errorf("Dropping GPS message at offset %d: %v", msg.Offset, err)
		return
	}
	if err := c.handler.Ingest(c.ctx, fix); err != nil {
		if errs.Is(err, errs.KindValidation) || errs.Is(err, errs.KindNotFound) {
			c.logger.Warnf("GPS fix for user %d rejected: %v", fix.UserID, err)
			return
		}
		c.logger.Errorf("GPS fix for user %d failed: %v", fix.UserID, err)
	}
}

// DecodeFix parses and validates a GPS message. A missing timestamp is
// stamped with the receive time.
func DecodeFix(value []byte) (models.GPSFix, error) {
	var fix models.GPSFix
	if err := json.Unmarshal(value, &fix); err != nil {
		return models.GPSFix{}, errs.Wrap(errs.KindValidation, "kafka.decode", err)
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = time.Now()
	}
	if err := fix.Validate(); err != nil {
		return models.GPSFix{}, err
	}
	return fix, nil
}

// Close stops consumption and closes the reader.
func (c *Consumer) Close() {
	c.cancel()
	if err := c.reader.Close(); err != nil {
		c.logger.Errorf("Failed to close Kafka reader: %v", err)
	}
}
