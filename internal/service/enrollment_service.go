package service

import (
	"context"
	"database/sql"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/edukita/edukita-api/internal/models"
	appErrors "github.com/edukita/edukita-api/pkg/errors"
)

type enrollmentSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.StudySession, error)
	FindByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.StudySession, error)
	UpdateCapacity(ctx context.Context, exec sqlx.ExtContext, id string, capacity int) error
}

type enrollmentRepository interface {
	FindBySessionAndStudent(ctx context.Context, exec sqlx.ExtContext, sessionID, studentID string) (*models.StudySessionEnrollment, error)
	ExistsAny(ctx context.Context, exec sqlx.ExtContext, sessionID, studentID string) (bool, error)
	CountEnrolled(ctx context.Context, exec sqlx.ExtContext, sessionID string) (int, error)
	MaxWaitlistPosition(ctx context.Context, exec sqlx.ExtContext, sessionID string) (int, error)
	ListWaitlisted(ctx context.Context, exec sqlx.ExtContext, sessionID string) ([]models.StudySessionEnrollment, error)
	Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.StudySessionEnrollment) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
	UpdateStatusAndPosition(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentStatus, position *int) error
	ListDetailBySession(ctx context.Context, sessionID string) ([]models.EnrollmentDetail, error)
}

type enrollmentStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type enrollmentNotifier interface {
	WaitlistPromoted(ctx context.Context, session *models.StudySession, studentID string)
}

type enrollmentMetrics interface {
	RecordEnrollmentOutcome(outcome string)
}

// EnrollRequest describes an enrollment attempt.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required"`
}

// UpdateCapacityRequest describes a capacity change.
type UpdateCapacityRequest struct {
	Capacity int `json:"capacity" validate:"required,min=1"`
}

// sessionLocks hands out one mutex per session so compound
// read-modify-write sequences on the same session never interleave.
// Mutexes are retained for the process lifetime; the set is bounded by
// the number of distinct sessions touched.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *sessionLocks) get(sessionID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[sessionID] = lock
	}
	return lock
}

// EnrollmentService owns the enrollment state machine: capacity-bounded
// seating, FIFO waitlisting, and promotion on vacancy. All mutations run
// under a per-session lock plus a row-locking transaction.
type EnrollmentService struct {
	sessions  enrollmentSessionReader
	repo      enrollmentRepository
	students  enrollmentStudentReader
	notifier  enrollmentNotifier
	metrics   enrollmentMetrics
	tx        txProvider
	locks     *sessionLocks
	validator *validator.Validate
	logger    *zap.Logger
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(sessions enrollmentSessionReader, repo enrollmentRepository, students enrollmentStudentReader, notifier enrollmentNotifier, metrics enrollmentMetrics, tx txProvider, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		sessions:  sessions,
		repo:      repo,
		students:  students,
		notifier:  notifier,
		metrics:   metrics,
		tx:        tx,
		locks:     newSessionLocks(),
		validator: validate,
		logger:    logger,
	}
}

// Enroll seats a student in a session or appends them to the waitlist when
// the session is full. A student can hold at most one row per session.
func (s *EnrollmentService) Enroll(ctx context.Context, sessionID string, req EnrollRequest) (*models.StudySessionEnrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if !student.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "student inactive")
	}

	lock := s.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	session, err := s.sessions.FindByIDForUpdate(ctx, tx, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if session.Status == models.SessionStatusCancelled {
		return nil, appErrors.Clone(appErrors.ErrSessionCancelled, "cannot enroll in a cancelled session")
	}

	exists, err := s.repo.ExistsAny(ctx, tx, sessionID, req.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if exists {
		return nil, appErrors.ErrAlreadyEnrolled
	}

	enrolledCount, err := s.repo.CountEnrolled(ctx, tx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrolled")
	}

	enrollment := &models.StudySessionEnrollment{SessionID: sessionID, StudentID: req.StudentID}
	if enrolledCount < session.Capacity {
		enrollment.Status = models.EnrollmentStatusEnrolled
	} else {
		maxPosition, err := s.repo.MaxWaitlistPosition(ctx, tx, sessionID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read waitlist")
		}
		position := maxPosition + 1
		enrollment.Status = models.EnrollmentStatusWaitlisted
		enrollment.WaitlistPosition = &position
	}

	if err := s.repo.Create(ctx, tx, enrollment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrollment")
	}

	if enrollment.Status == models.EnrollmentStatusEnrolled {
		if err := s.assertCapacity(ctx, tx, session); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit enrollment")
	}

	if s.metrics != nil {
		s.metrics.RecordEnrollmentOutcome(string(enrollment.Status))
	}
	s.logger.Info("student enrolled",
		zap.String("session_id", sessionID),
		zap.String("student_id", req.StudentID),
		zap.String("status", string(enrollment.Status)))
	return enrollment, nil
}

// Withdraw removes a student's enrollment. Vacating a seat promotes the
// head of the waitlist; vacating a waitlist slot closes the gap.
func (s *EnrollmentService) Withdraw(ctx context.Context, sessionID, studentID string) error {
	lock := s.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	session, err := s.sessions.FindByIDForUpdate(ctx, tx, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	enrollment, err := s.repo.FindBySessionAndStudent(ctx, tx, sessionID, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.ErrNotEnrolled
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if err := s.repo.Delete(ctx, tx, enrollment.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete enrollment")
	}

	var promotedStudentID string
	waitlist, err := s.repo.ListWaitlisted(ctx, tx, sessionID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read waitlist")
	}

	if enrollment.Status == models.EnrollmentStatusEnrolled && len(waitlist) > 0 {
		enrolledCount, err := s.repo.CountEnrolled(ctx, tx, sessionID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrolled")
		}
		// The freed seat is only reusable when the session is not still
		// over capacity from an earlier reduction.
		if enrolledCount < session.Capacity {
			head := waitlist[0]
			if err := s.repo.UpdateStatusAndPosition(ctx, tx, head.ID, models.EnrollmentStatusEnrolled, nil); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to promote waitlisted student")
			}
			promotedStudentID = head.StudentID
			waitlist = waitlist[1:]
		}
	}

	if err := s.applyRenumbering(ctx, tx, waitlist); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit withdrawal")
	}

	if promotedStudentID != "" {
		if s.metrics != nil {
			s.metrics.RecordEnrollmentOutcome("PROMOTED")
		}
		if s.notifier != nil {
			s.notifier.WaitlistPromoted(ctx, session, promotedStudentID)
		}
	}
	s.logger.Info("student withdrawn",
		zap.String("session_id", sessionID),
		zap.String("student_id", studentID),
		zap.String("promoted_student_id", promotedStudentID))
	return nil
}

// UpdateCapacity changes a session's seat count. Increases promote
// waitlisted students in FIFO order until the new capacity is reached.
// Decreases never demote seated students; they only constrain future
// enroll attempts.
func (s *EnrollmentService) UpdateCapacity(ctx context.Context, sessionID string, req UpdateCapacityRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid capacity payload")
	}

	lock := s.locks.get(sessionID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck

	session, err := s.sessions.FindByIDForUpdate(ctx, tx, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	if err := s.sessions.UpdateCapacity(ctx, tx, sessionID, req.Capacity); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update capacity")
	}

	var promoted []string
	if req.Capacity > session.Capacity {
		enrolledCount, err := s.repo.CountEnrolled(ctx, tx, sessionID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrolled")
		}
		waitlist, err := s.repo.ListWaitlisted(ctx, tx, sessionID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read waitlist")
		}

		for len(waitlist) > 0 && enrolledCount < req.Capacity {
			head := waitlist[0]
			if err := s.repo.UpdateStatusAndPosition(ctx, tx, head.ID, models.EnrollmentStatusEnrolled, nil); err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to promote waitlisted student")
			}
			promoted = append(promoted, head.StudentID)
			waitlist = waitlist[1:]
			enrolledCount++
		}

		if err := s.applyRenumbering(ctx, tx, waitlist); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit capacity change")
	}

	session.Capacity = req.Capacity
	for _, studentID := range promoted {
		if s.metrics != nil {
			s.metrics.RecordEnrollmentOutcome("PROMOTED")
		}
		if s.notifier != nil {
			s.notifier.WaitlistPromoted(ctx, session, studentID)
		}
	}
	s.logger.Info("session capacity updated",
		zap.String("session_id", sessionID),
		zap.Int("capacity", req.Capacity),
		zap.Int("promoted", len(promoted)))
	return nil
}

// Roster returns the session's enrollments grouped by seat state. Reads
// are unlocked and may trail in-flight mutations slightly.
func (s *EnrollmentService) Roster(ctx context.Context, sessionID string) (*models.SessionRoster, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	details, err := s.repo.ListDetailBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list roster")
	}
	roster := &models.SessionRoster{SessionID: sessionID, Capacity: session.Capacity}
	for _, detail := range details {
		switch detail.Status {
		case models.EnrollmentStatusEnrolled:
			roster.Enrolled = append(roster.Enrolled, detail)
		case models.EnrollmentStatusWaitlisted:
			roster.Waitlisted = append(roster.Waitlisted, detail)
		}
	}
	return roster, nil
}

// applyRenumbering persists contiguous 1..N positions for the remaining
// waitlist, writing only rows whose position actually changed.
func (s *EnrollmentService) applyRenumbering(ctx context.Context, tx *sqlx.Tx, waitlist []models.StudySessionEnrollment) error {
	for i, entry := range Renumber(waitlist) {
		if waitlist[i].WaitlistPosition != nil && *waitlist[i].WaitlistPosition == *entry.WaitlistPosition {
			continue
		}
		if err := s.repo.UpdateStatusAndPosition(ctx, tx, entry.ID, models.EnrollmentStatusWaitlisted, entry.WaitlistPosition); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to renumber waitlist")
		}
	}
	return nil
}

// assertCapacity re-checks that enrolled seats never exceed capacity
// before commit. Unreachable while the locking discipline holds.
func (s *EnrollmentService) assertCapacity(ctx context.Context, tx *sqlx.Tx, session *models.StudySession) error {
	enrolledCount, err := s.repo.CountEnrolled(ctx, tx, session.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify capacity")
	}
	if enrolledCount > session.Capacity {
		s.logger.Error("capacity invariant violated",
			zap.String("session_id", session.ID),
			zap.Int("enrolled", enrolledCount),
			zap.Int("capacity", session.Capacity))
		return appErrors.ErrCapacityViolation
	}
	return nil
}
