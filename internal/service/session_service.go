package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/edukita/edukita-api/internal/models"
	"github.com/edukita/edukita-api/internal/recurrence"
	appErrors "github.com/edukita/edukita-api/pkg/errors"
)

type sessionRepository interface {
	Create(ctx context.Context, exec sqlx.ExtContext, session *models.StudySession) error
	FindByID(ctx context.Context, id string) (*models.StudySession, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.StudySessionDetail, int, error)
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.SessionStatus) error
	UpdateSchedule(ctx context.Context, session *models.StudySession) error
}

type sessionOccurrenceRepository interface {
	CreateBatch(ctx context.Context, exec sqlx.ExtContext, occurrences []models.StudySessionOccurrence) error
	ListBySession(ctx context.Context, sessionID string) ([]models.StudySessionOccurrence, error)
	CancelFutureBySession(ctx context.Context, exec sqlx.ExtContext, sessionID string, after time.Time) error
}

type sessionTeacherReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type sessionNotifier interface {
	SessionUpdated(ctx context.Context, session *models.StudySession)
}

type sessionCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

const upcomingSessionsCacheKey = "sessions:upcoming"

// CreateSessionRequest describes session creation. Capacity defaults to 1
// and frequency/count to a single occurrence when omitted.
type CreateSessionRequest struct {
	TeacherID   string    `json:"teacher_id" validate:"required"`
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"starts_at" validate:"required"`
	EndsAt      time.Time `json:"ends_at" validate:"required"`
	Location    string    `json:"location"`
	MeetingURL  string    `json:"meeting_url" validate:"omitempty,url"`
	Capacity    int       `json:"capacity" validate:"omitempty,min=1"`
	Timezone    string    `json:"timezone"`
	Frequency   string    `json:"frequency" validate:"omitempty,oneof=daily weekly"`
	Count       int       `json:"count" validate:"omitempty,min=1"`
}

// RescheduleSessionRequest describes a session update. Materialized
// occurrences keep their own times.
type RescheduleSessionRequest struct {
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"starts_at" validate:"required"`
	EndsAt      time.Time `json:"ends_at" validate:"required"`
	Location    string    `json:"location"`
	MeetingURL  string    `json:"meeting_url" validate:"omitempty,url"`
	Timezone    string    `json:"timezone"`
}

// SessionServiceConfig tunes catalog behaviour.
type SessionServiceConfig struct {
	UpcomingCacheTTL time.Duration
	MaxOccurrences   int
}

// SessionService owns the session catalog: creation with occurrence
// materialization, cancellation, and rescheduling.
type SessionService struct {
	repo        sessionRepository
	occurrences sessionOccurrenceRepository
	teachers    sessionTeacherReader
	notifier    sessionNotifier
	cache       sessionCache
	tx          txProvider
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         SessionServiceConfig
}

// NewSessionService constructs SessionService.
func NewSessionService(repo sessionRepository, occurrences sessionOccurrenceRepository, teachers sessionTeacherReader, notifier sessionNotifier, cache sessionCache, tx txProvider, validate *validator.Validate, logger *zap.Logger, cfg SessionServiceConfig) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UpcomingCacheTTL <= 0 {
		cfg.UpcomingCacheTTL = 5 * time.Minute
	}
	if cfg.MaxOccurrences <= 0 {
		cfg.MaxOccurrences = 52
	}
	return &SessionService{
		repo:        repo,
		occurrences: occurrences,
		teachers:    teachers,
		notifier:    notifier,
		cache:       cache,
		tx:          tx,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
	}
}

// Create persists a session and its occurrence windows atomically.
func (s *SessionService) Create(ctx context.Context, req CreateSessionRequest) (*models.StudySession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if !req.EndsAt.After(req.StartsAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "ends_at must be after starts_at")
	}

	teacher, err := s.teachers.FindByID(ctx, req.TeacherID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if !teacher.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "teacher inactive")
	}

	capacity := req.Capacity
	if capacity == 0 {
		capacity = 1
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	frequency := recurrence.Frequency(strings.ToLower(req.Frequency))
	count := req.Count
	if count > s.cfg.MaxOccurrences {
		count = s.cfg.MaxOccurrences
	}

	session := &models.StudySession{
		TeacherID:      req.TeacherID,
		Title:          req.Title,
		Description:    req.Description,
		StartsAt:       req.StartsAt.UTC(),
		EndsAt:         req.EndsAt.UTC(),
		Location:       req.Location,
		MeetingURL:     req.MeetingURL,
		Capacity:       capacity,
		Timezone:       timezone,
		RecurrenceRule: recurrence.ToRule(frequency, count),
		Status:         models.SessionStatusScheduled,
	}

	windows := recurrence.Generate(session.StartsAt, session.EndsAt, frequency, count)

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.repo.Create(ctx, tx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	occurrences := make([]models.StudySessionOccurrence, 0, len(windows))
	for _, window := range windows {
		occurrences = append(occurrences, models.StudySessionOccurrence{
			SessionID: session.ID,
			StartsAt:  window.StartsAt,
			EndsAt:    window.EndsAt,
			Status:    models.OccurrenceStatusScheduled,
		})
	}
	if err := s.occurrences.CreateBatch(ctx, tx, occurrences); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create occurrences")
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit session")
	}

	s.invalidateCache(ctx)
	s.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("teacher_id", session.TeacherID),
		zap.Int("occurrences", len(occurrences)))
	return session, nil
}

// Get returns a session by ID.
func (s *SessionService) Get(ctx context.Context, id string) (*models.StudySession, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// List returns sessions with pagination metadata.
func (s *SessionService) List(ctx context.Context, filter models.SessionFilter) ([]models.StudySessionDetail, *models.Pagination, error) {
	sessions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return sessions, pagination, nil
}

// Upcoming returns the cached default listing of scheduled sessions
// starting from now.
func (s *SessionService) Upcoming(ctx context.Context) ([]models.StudySessionDetail, error) {
	if s.cache != nil {
		var cached []models.StudySessionDetail
		if err := s.cache.Get(ctx, upcomingSessionsCacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	now := time.Now().UTC()
	sessions, _, err := s.repo.List(ctx, models.SessionFilter{
		Status: models.SessionStatusScheduled,
		From:   &now,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list upcoming sessions")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, upcomingSessionsCacheKey, sessions, s.cfg.UpcomingCacheTTL); err != nil {
			s.logger.Warn("failed to cache upcoming sessions", zap.Error(err))
		}
	}
	return sessions, nil
}

// ListOccurrences returns a session's materialized occurrences.
func (s *SessionService) ListOccurrences(ctx context.Context, sessionID string) ([]models.StudySessionOccurrence, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	occurrences, err := s.occurrences.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list occurrences")
	}
	return occurrences, nil
}

// Cancel marks a session cancelled, cascades to future occurrences, and
// notifies enrolled students' guardians plus the teacher.
func (s *SessionService) Cancel(ctx context.Context, id string) (*models.StudySession, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "session already cancelled")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.repo.UpdateStatus(ctx, tx, id, models.SessionStatusCancelled); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel session")
	}
	if err := s.occurrences.CancelFutureBySession(ctx, tx, id, time.Now().UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel occurrences")
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit cancellation")
	}

	session.Status = models.SessionStatusCancelled
	s.invalidateCache(ctx)
	if s.notifier != nil {
		s.notifier.SessionUpdated(ctx, session)
	}
	s.logger.Info("session cancelled", zap.String("session_id", id))
	return session, nil
}

// Reschedule updates a session's window and venue. Occurrences already
// materialized keep their own times unless regenerated explicitly.
func (s *SessionService) Reschedule(ctx context.Context, id string, req RescheduleSessionRequest) (*models.StudySession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if !req.EndsAt.After(req.StartsAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "ends_at must be after starts_at")
	}

	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "cannot reschedule a cancelled session")
	}

	session.Title = req.Title
	session.Description = req.Description
	session.StartsAt = req.StartsAt.UTC()
	session.EndsAt = req.EndsAt.UTC()
	session.Location = req.Location
	session.MeetingURL = req.MeetingURL
	if req.Timezone != "" {
		session.Timezone = req.Timezone
	}

	if err := s.repo.UpdateSchedule(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reschedule session")
	}

	s.invalidateCache(ctx)
	if s.notifier != nil {
		s.notifier.SessionUpdated(ctx, session)
	}
	s.logger.Info("session rescheduled", zap.String("session_id", id))
	return session, nil
}

func (s *SessionService) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "sessions:*"); err != nil {
		s.logger.Warn("failed to invalidate session cache", zap.Error(err))
	}
}
