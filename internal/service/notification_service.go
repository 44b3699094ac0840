package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-ledger-api/internal/models"
	"github.com/noah-isme/tutor-ledger-api/pkg/jobs"
)

type jobQueue interface {
	Handle(kind string, handler jobs.Handler)
	Enqueue(job jobs.Job) error
}

// NotificationConfig configures substitution event delivery.
type NotificationConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// NotificationService hands substitution events to the external notification
// service. Delivery is best effort and happens off the request path.
type NotificationService struct {
	queue      jobQueue
	client     *http.Client
	webhookURL string
	logger     *zap.Logger
}

// NewNotificationService registers the event handler on queue.
func NewNotificationService(queue jobQueue, cfg NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	s := &NotificationService{
		queue:      queue,
		client:     &http.Client{Timeout: cfg.Timeout},
		webhookURL: cfg.WebhookURL,
		logger:     logger,
	}
	if queue != nil {
		queue.Handle(models.EventLessonSubstituted, s.deliver)
	}
	return s
}

// PublishSubstitution enqueues the event. Failures are logged, never returned:
// the substitution has already committed.
func (s *NotificationService) PublishSubstitution(ctx context.Context, event models.SubstitutionEvent) {
	if s == nil || s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: event.EventID, Kind: models.EventLessonSubstituted, Payload: event}); err != nil {
		s.logger.Warn("substitution event dropped",
			zap.String("event_id", event.EventID),
			zap.String("reservation_id", event.ReservationID),
			zap.Error(err),
		)
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.SubstitutionEvent)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	s.logger.Info("lesson substituted",
		zap.String("event_id", event.EventID),
		zap.String("student_id", event.StudentID),
		zap.String("contract_id", event.ContractID),
		zap.Time("original_at", event.OriginalAt),
		zap.Time("substitute_at", event.SubstituteAt),
	)
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal substitution event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", event.Type)
	req.Header.Set("X-Event-ID", event.EventID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post substitution event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}
