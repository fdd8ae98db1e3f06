// Package notification persists fired alerts and fans them out to the
// socket, push, email, Telegram and Kafka channels on a worker pool.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"proximity-service/internal/config"
	"proximity-service/internal/errs"
	"proximity-service/internal/logging"
	"proximity-service/internal/models"
	"proximity-service/internal/providers"
	"proximity-service/internal/socket"
)

// Store persists alerts and resolves recipients.
type Store interface {
	CreateAlertEvent(ctx context.Context, ev models.AlertEvent) error
	GetDeviceTokens(ctx context.Context, userID int) ([]models.DeviceToken, error)
	DeleteDeviceToken(ctx context.Context, token string) error
	GetAgencyRecipients(ctx context.Context, agencyID int) ([]models.Recipient, error)
}

// Broadcaster delivers to a socket room.
type Broadcaster interface {
	Broadcast(room string, v any) (int, error)
}

// Pusher delivers to one device token.
type Pusher interface {
	Send(ctx context.Context, token string, payload models.AlertPayload) error
}

// Mailer sends email.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// Messenger posts to the supervisor chat.
type Messenger interface {
	Send(ctx context.Context, text string) error
}

// Publisher writes alerts to the event stream.
type Publisher interface {
	Publish(ctx context.Context, ev models.AlertEvent) error
}

// Channels are the delivery targets. A nil channel is disabled.
type Channels struct {
	Socket   Broadcaster
	Push     Pusher
	Email    Mailer
	Telegram Messenger
	Stream   Publisher
}

// OverlapNotice tells an agency's supervisors about a new authority overlap.
type OverlapNotice struct {
	AgencyID int
	Record   models.OverlapRecord
	Names    map[int64]string
}

// ConfigChange tells an agency's supervisors that thresholds were changed.
type ConfigChange struct {
	AgencyID   int
	ConfigType models.ConfigType
	Thresholds []models.AlertThreshold
	ChangedBy  int
	ChangedAt  time.Time
}

// Task is one unit of queued delivery work. Exactly one field is set.
type Task struct {
	Event   *models.AlertEvent
	Overlap *OverlapNotice
	Config  *ConfigChange
}

func (t Task) String() string {
	switch {
	case t.Event != nil:
		return fmt.Sprintf("alert %s (%s/%s, user %d)", t.Event.ID, t.Event.Type, t.Event.Level, t.Event.SubjectUserID)
	case t.Overlap != nil:
		return fmt.Sprintf("overlap %s (authorities %d/%d)", t.Overlap.Record.ID, t.Overlap.Record.Authority1ID, t.Overlap.Record.Authority2ID)
	case t.Config != nil:
		return fmt.Sprintf("config change %s (agency %d)", t.Config.ConfigType, t.Config.AgencyID)
	}
	return "empty task"
}

// Stats counts delivery outcomes.
type Stats struct {
	Queued    int64 `json:"queued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
}

// Service persists AlertEvents and dispatches them on a worker pool.
type Service struct {
	store          Store
	channels       Channels
	logger         *logging.Logger
	maxWorkers     int
	persistTimeout time.Duration
	tasks          chan Task
	ctx            context.Context
	cancel         context.CancelFunc
	wg             *sync.WaitGroup
	providerFuncs  map[string]func(context.Context, models.AlertEvent) error

	queued    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// channelOrder fixes the order alert channels are attempted in.
var channelOrder = []string{"socket", "push", "stream"}

// New constructs a notification Service.
func New(store Store, channels Channels, logger *logging.Logger, cfg config.Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		store:          store,
		channels:       channels,
		logger:         logger,
		maxWorkers:     max(cfg.Notification.MaxWorkers, 1),
		persistTimeout: cfg.Notification.PersistTimeout,
		tasks:          make(chan Task, max(cfg.Notification.QueueSize, 1)),
		ctx:            ctx,
		cancel:         cancel,
	}
	svc.providerFuncs = map[string]func(context.Context, models.AlertEvent) error{
		"socket": svc.sendSocket,
		"push":   svc.sendPush,
		"stream": svc.sendStream,
	}
	return svc
}

// Start launches the worker pool.
func (s *Service) Start(wg *sync.WaitGroup) {
	s.wg = wg
	for i := 0; i < s.maxWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop signals workers to exit. Queued and in-flight deliveries are abandoned.
func (s *Service) Stop() {
	s.cancel()
}

// Stats returns delivery counters.
func (s *Service) Stats() Stats {
	return Stats{
		Queued:    s.queued.Load(),
		Delivered: s.delivered.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
		Pending:   len(s.tasks),
	}
}

// Dispatch persists ev and queues its delivery. It returns once the event is
// stored; delivery happens on the worker pool.
func (s *Service) Dispatch(ctx context.Context, ev models.AlertEvent) error {
	pctx := ctx
	if s.persistTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, s.persistTimeout)
		defer cancel()
	}
	if err := s.store.CreateAlertEvent(pctx, ev); err != nil {
		return errs.Wrap(errs.KindOf(err), "notification.dispatch", err)
	}
	s.QueueTask(Task{Event: &ev})
	return nil
}

// NotifyOverlap queues the supervisor notice for a new overlap.
func (s *Service) NotifyOverlap(notice OverlapNotice) {
	s.QueueTask(Task{Overlap: &notice})
}

// NotifyConfigChange queues the supervisor email for a threshold change.
func (s *Service) NotifyConfigChange(change ConfigChange) {
	s.QueueTask(Task{Config: &change})
}

// QueueTask enqueues a Task for processing, dropping it when the queue is full.
func (s *Service) QueueTask(task Task) {
	select {
	case s.tasks <- task:
		s.queued.Add(1)
		s.logger.Debugf("Queued %s", task)
	default:
		s.dropped.Add(1)
		s.logger.Errorf("Queue full, dropping %s", task)
	}
}

// worker processes Tasks until context is cancelled.
func (s *Service) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugf("Worker %d stopped", id)
			return
		case task := <-s.tasks:
			s.handleTask(s.ctx, task)
		}
	}
}

func (s *Service) handleTask(ctx context.Context, task Task) {
	var err error
	switch {
	case task.Event != nil:
		err = s.deliver(ctx, *task.Event)
	case task.Overlap != nil:
		err = s.notifyOverlap(ctx, *task.Overlap)
	case task.Config != nil:
		err = s.notifyConfigChange(ctx, *task.Config)
	}
	if err != nil {
		s.failed.Add(1)
		s.logger.Warnf("Delivery of %s incomplete: %v", task, err)
		return
	}
	s.delivered.Add(1)
}

// deliver runs every enabled channel for ev. One channel failing never stops
// the others.
func (s *Service) deliver(ctx context.Context, ev models.AlertEvent) error {
	var result *multierror.Error
	for _, name := range channelOrder {
		if err := s.providerFuncs[name](ctx, ev); err != nil {
			s.logger.Errorf("Delivery via %s to user %d failed: %v", name, ev.SubjectUserID, err)
			result = multierror.Append(result, errs.Wrap(errs.KindDeliveryFailure, name, err))
		}
	}
	if ev.Type == models.AlertBoundary && s.channels.Telegram != nil {
		if d, ok := ev.Details.(models.BoundaryDetails); ok && d.Outside {
			if err := s.channels.Telegram.Send(ctx, "*Authority limit violation*\n"+ev.Message+fmt.Sprintf("\nUser %d, authority %d", ev.SubjectUserID, ev.AuthorityID)); err != nil {
				s.logger.Errorf("Delivery via telegram for user %d failed: %v", ev.SubjectUserID, err)
				result = multierror.Append(result, errs.Wrap(errs.KindDeliveryFailure, "telegram", err))
			}
		}
	}
	return result.ErrorOrNil()
}

func (s *Service) sendSocket(_ context.Context, ev models.AlertEvent) error {
	if s.channels.Socket == nil {
		return nil
	}
	_, err := s.channels.Socket.Broadcast(socket.Room(ev.SubjectUserID), ev.Payload())
	return err
}

// sendPush sends to every active token; unregistered tokens are deleted.
func (s *Service) sendPush(ctx context.Context, ev models.AlertEvent) error {
	if s.channels.Push == nil {
		return nil
	}
	tokens, err := s.store.GetDeviceTokens(ctx, ev.SubjectUserID)
	if err != nil {
		return fmt.Errorf("failed to load device tokens: %w", err)
	}
	var result *multierror.Error
	payload := ev.Payload()
	for _, t := range tokens {
		if !t.Active {
			continue
		}
		err := s.channels.Push.Send(ctx, t.Token, payload)
		if errors.Is(err, providers.ErrTokenNotRegistered) {
			s.logger.Infof("Removing unregistered push token for user %d", ev.SubjectUserID)
			if derr := s.store.DeleteDeviceToken(ctx, t.Token); derr != nil {
				result = multierror.Append(result, fmt.Errorf("failed to remove token: %w", derr))
			}
			continue
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("token %s: %w", maskToken(t.Token), err))
		}
	}
	return result.ErrorOrNil()
}

func (s *Service) sendStream(ctx context.Context, ev models.AlertEvent) error {
	if s.channels.Stream == nil {
		return nil
	}
	return s.channels.Stream.Publish(ctx, ev)
}

func (s *Service) supervisorEmails(ctx context.Context, agencyID int) ([]string, error) {
	recipients, err := s.store.GetAgencyRecipients(ctx, agencyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load recipients for agency %d: %w", agencyID, err)
	}
	to := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r.Email != "" {
			to = append(to, r.Email)
		}
	}
	return to, nil
}

func (s *Service) notifyOverlap(ctx context.Context, n OverlapNotice) error {
	rec := n.Record
	name := func(id int64) string {
		if v := n.Names[id]; v != "" {
			return v
		}
		return fmt.Sprintf("authority %d", id)
	}
	subject := fmt.Sprintf("%s authority overlap on %s", rec.Severity, rec.TrackRef)
	body := fmt.Sprintf(
		"Authorities %d (%s) and %d (%s) overlap on %s between MP %.2f and MP %.2f (%.2f mi).\nSeverity: %s\nDetected: %s",
		rec.Authority1ID, name(rec.Authority1ID),
		rec.Authority2ID, name(rec.Authority2ID),
		rec.TrackRef, rec.OverlapBeginMP, rec.OverlapEndMP, rec.Span(),
		rec.Severity, rec.DetectedAt.Format(time.RFC3339),
	)

	var result *multierror.Error
	if s.channels.Email != nil {
		to, err := s.supervisorEmails(ctx, n.AgencyID)
		switch {
		case err != nil:
			result = multierror.Append(result, errs.Wrap(errs.KindDeliveryFailure, "email", err))
		case len(to) == 0:
			s.logger.Warnf("No supervisors to email about overlap %s for agency %d", rec.ID, n.AgencyID)
		default:
			if err := s.channels.Email.Send(ctx, to, subject, body); err != nil {
				s.logger.Errorf("Delivery via email to %s failed: %v", strings.Join(to, ", "), err)
				result = multierror.Append(result, errs.Wrap(errs.KindDeliveryFailure, "email", err))
			}
		}
	}
	if s.channels.Telegram != nil {
		if err := s.channels.Telegram.Send(ctx, "*"+subject+"*\n"+body); err != nil {
			s.logger.Errorf("Delivery via telegram for overlap %s failed: %v", rec.ID, err)
			result = multierror.Append(result, errs.Wrap(errs.KindDeliveryFailure, "telegram", err))
		}
	}
	return result.ErrorOrNil()
}

func (s *Service) notifyConfigChange(ctx context.Context, c ConfigChange) error {
	if s.channels.Email == nil {
		return nil
	}
	to, err := s.supervisorEmails(ctx, c.AgencyID)
	if err != nil {
		return errs.Wrap(errs.KindDeliveryFailure, "email", err)
	}
	if len(to) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s alert thresholds for agency %d were updated by user %d at %s.\n\n",
		c.ConfigType, c.AgencyID, c.ChangedBy, c.ChangedAt.Format(time.RFC3339))
	for _, t := range c.Thresholds {
		state := "enabled"
		if !t.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "%-14s %.2f mi (%s)\n", t.Level, t.DistanceMiles, state)
	}
	subject := fmt.Sprintf("%s alert configuration changed", c.ConfigType)
	if err := s.channels.Email.Send(ctx, to, subject, b.String()); err != nil {
		s.logger.Errorf("Delivery via email to %s failed: %v", strings.Join(to, ", "), err)
		return errs.Wrap(errs.KindDeliveryFailure, "email", err)
	}
	return nil
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "…" + token[len(token)-4:]
}
