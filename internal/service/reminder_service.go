package service

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/edukita/edukita-api/internal/models"
	appErrors "github.com/edukita/edukita-api/pkg/errors"
)

type reminderOccurrenceRepository interface {
	FindByID(ctx context.Context, id string) (*models.StudySessionOccurrence, error)
	ListDueReminders(ctx context.Context, now time.Time, leadTime time.Duration) ([]models.StudySessionOccurrence, error)
	MarkReminderSent(ctx context.Context, id string, at time.Time) error
}

type reminderSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.StudySession, error)
}

type reminderNotifier interface {
	Reminder(ctx context.Context, session *models.StudySession, occurrence *models.StudySessionOccurrence) error
}

type reminderMetrics interface {
	RecordReminderSent()
}

// ReminderServiceConfig tunes the polling worker.
type ReminderServiceConfig struct {
	LeadTime     time.Duration
	PollInterval time.Duration
}

// ReminderService fires at-most-once reminders for upcoming occurrences.
// A polling loop covers the common case; Trigger serves manual resends.
type ReminderService struct {
	occurrences reminderOccurrenceRepository
	sessions    reminderSessionReader
	notifier    reminderNotifier
	metrics     reminderMetrics
	logger      *zap.Logger
	cfg         ReminderServiceConfig

	now func() time.Time
}

// NewReminderService constructs ReminderService.
func NewReminderService(occurrences reminderOccurrenceRepository, sessions reminderSessionReader, notifier reminderNotifier, metrics reminderMetrics, logger *zap.Logger, cfg ReminderServiceConfig) *ReminderService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LeadTime <= 0 {
		cfg.LeadTime = 24 * time.Hour
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	return &ReminderService{
		occurrences: occurrences,
		sessions:    sessions,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run polls for due reminders until the context is cancelled.
func (s *ReminderService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.Info("reminder worker started",
		zap.Duration("lead_time", s.cfg.LeadTime),
		zap.Duration("poll_interval", s.cfg.PollInterval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reminder worker stopped")
			return
		case <-ticker.C:
			if sent, err := s.Sweep(ctx); err != nil {
				s.logger.Error("reminder sweep failed", zap.Error(err))
			} else if sent > 0 {
				s.logger.Info("reminders sent", zap.Int("count", sent))
			}
		}
	}
}

// Sweep sends reminders for all occurrences due inside the lead window.
// Each occurrence is stamped after its notification is accepted so a
// failure on one never blocks the rest.
func (s *ReminderService) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.occurrences.ListDueReminders(ctx, now, s.cfg.LeadTime)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range due {
		occurrence := due[i]
		if err := s.remind(ctx, &occurrence); err != nil {
			s.logger.Error("failed to send reminder",
				zap.String("occurrence_id", occurrence.ID), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}

// Trigger sends a reminder for a specific occurrence regardless of the
// lead window, used by the manual resend endpoint. An occurrence already
// reminded is rejected to preserve at-most-once delivery.
func (s *ReminderService) Trigger(ctx context.Context, occurrenceID string) error {
	occurrence, err := s.occurrences.FindByID(ctx, occurrenceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "occurrence not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occurrence")
	}
	if occurrence.Status == models.OccurrenceStatusCancelled {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "occurrence is cancelled")
	}
	if occurrence.ReminderSentAt != nil {
		return appErrors.Clone(appErrors.ErrConflict, "reminder already sent")
	}
	if err := s.remind(ctx, occurrence); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to send reminder")
	}
	return nil
}

func (s *ReminderService) remind(ctx context.Context, occurrence *models.StudySessionOccurrence) error {
	session, err := s.sessions.FindByID(ctx, occurrence.SessionID)
	if err != nil {
		return err
	}
	if session.Status == models.SessionStatusCancelled {
		return nil
	}
	if err := s.notifier.Reminder(ctx, session, occurrence); err != nil {
		return err
	}
	if err := s.occurrences.MarkReminderSent(ctx, occurrence.ID, s.now()); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.RecordReminderSent()
	}
	return nil
}
