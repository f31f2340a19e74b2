package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edukita/edukita-api/internal/models"
	appErrors "github.com/edukita/edukita-api/pkg/errors"
)

func TestEnrollmentServiceEnrollSeatsUnderCapacity(t *testing.T) {
	fixture, mock := newEnrollmentFixture(t, 2)
	mock.ExpectBegin()
	mock.ExpectCommit()

	enrollment, err := fixture.service.Enroll(context.Background(), "session-1", EnrollRequest{StudentID: "student-a"})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusEnrolled, enrollment.Status)
	assert.Nil(t, enrollment.WaitlistPosition)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, []string{"ENROLLED"}, fixture.metrics.outcomes)
}

func TestEnrollmentServiceEnrollWaitlistsWhenFull(t *testing.T) {
	fixture, mock := newEnrollmentFixture(t, 2)
	fixture.repo.seedEnrolled("student-a", "student-b")
	mock.ExpectBegin()
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectCommit()

	first, err := fixture.service.Enroll(context.Background(), "session-1", EnrollRequest{StudentID: "student-c"})
	require.NoError(t, err)
	require.Equal(t, models.EnrollmentStatusWaitlisted, first.Status)
	require.NotNil(t, first.WaitlistPosition)
	assert.Equal(t, 1, *first.WaitlistPosition)

	second, err := fixture.service.Enroll(context.Background(), "session-1", EnrollRequest{StudentID: "student-d"})
	require.NoError(t, err)
	require.NotNil(t, second.WaitlistPosition)
	assert.Equal(t, 2, *second.WaitlistPosition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceEnrollRejectsDuplicate(t *testing.T) {
	fixture, mock := newEnrollmentFixture(t, 2)
	fixture.repo.seedEnrolled("student-a")
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := fixture.service.Enroll(context.Background(), "session-1", EnrollRequest{StudentID: "student-a"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAlreadyEnrolled.Code, appErrors.FromError(err).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceEnrollRejectsCancelledSession(t *testing.T) {
	fixture, mock := newEnrollmentFixture(t, 2)
	fixture.sessions.session.Status = models.SessionStatusCancelled
	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := fixture.service.Enroll(context.Background(), "session-1", EnrollRequest{StudentID: "student-a"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrSessionCancelled.Code, appErrors.FromError(err).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceEnrollRejectsInactiveStudent(t *testing.T) {
	fixture, mock := newEnrollmentFixture(t, 2)
	fixture.students.students["student-a"].Active = false

	_, err := fixture.service.Enroll(context.Background(), "session-1", EnrollRequest{StudentID: "student-a"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceWithdrawPromotesWaitlistHead(t *testing.T) {
	fixture, mock := newEnrollmentFixture(t, 2)
	fixture.repo.seedEnrolled("student-a", "student-b")
	fixture.repo.seedWaitlisted("student-c", "student-d")
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := fixture.service.Withdraw(context.Background(), "session-1", "student-a")
	require.NoError(t, err)

	promoted := fixture.repo.find("student-c")
	require.NotNil(t, promoted)
	assert.Equal(t, models.EnrollmentStatusEnrolled, promoted.Status)
	assert.Nil(t, promoted.WaitlistPosition)

	remaining := fixture.repo.find("student-d")
	require.NotNil(t, remaining)
	require.NotNil(t, remaining.WaitlistPosition)
	assert.Equal(t, 1, *remaining.WaitlistPosition)

	assert.Equal(t, []string{"student-c"}, fixture.notifier.promoted)
	assert.Contains(t, fixture.metrics.outcomes, "PROMOTED")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceWithdrawFromWaitlistClosesGap(t *testing.T) {
	fixture, mock := newEnrollmentFixture(t, 2)
	fixture.repo.seedEnrolled("student-a", "student-b")
	fixture.repo.seedWaitlisted("student-c", "student-d", "student-e")
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := fixture.service.Withdraw(context.Background(), "session-1", "student-c")
	require.NoError(t, err)

	d := fixture.repo.find("student-d")
	e := fixture.repo.find("student-e")
	require.NotNil(t, d.WaitlistPosition)
	require.NotNil(t, e.WaitlistPosition)
	assert.Equal(t, 1, *d.WaitlistPosition)
	assert.Equal(t, 2, *e.WaitlistPosition)
	assert.Empty(t, fixture.notifier.promoted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceWithdrawNotEnrolled(t *testing.T) {
	fixture, mock := newEnrollmentFixture(t, 2)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := fixture.service.Withdraw(context.Background(), "session-1", "student-z")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotEnrolled.Code, appErrors.FromError(err).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceWithdrawSkipsPromotionWhileOverCapacity(t *testing.T) {
	// Capacity was reduced below the seated count earlier; a freed seat
	// must not trigger a promotion until the session is back within bounds.
	fixture, mock := newEnrollmentFixture(t, 1)
	fixture.repo.seedEnrolled("student-a", "student-b")
	fixture.repo.seedWaitlisted("student-c")
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := fixture.service.Withdraw(context.Background(), "session-1", "student-a")
	require.NoError(t, err)

	c := fixture.repo.find("student-c")
	assert.Equal(t, models.EnrollmentStatusWaitlisted, c.Status)
	assert.Empty(t, fixture.notifier.promoted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceCapacityIncreasePromotesFIFO(t *testing.T) {
	fixture, mock := newEnrollmentFixture(t, 1)
	fixture.repo.seedEnrolled("student-a")
	fixture.repo.seedWaitlisted("student-b", "student-c", "student-d")
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := fixture.service.UpdateCapacity(context.Background(), "session-1", UpdateCapacityRequest{Capacity: 3})
	require.NoError(t, err)

	assert.Equal(t, models.EnrollmentStatusEnrolled, fixture.repo.find("student-b").Status)
	assert.Equal(t, models.EnrollmentStatusEnrolled, fixture.repo.find("student-c").Status)

	d := fixture.repo.find("student-d")
	assert.Equal(t, models.EnrollmentStatusWaitlisted, d.Status)
	require.NotNil(t, d.WaitlistPosition)
	assert.Equal(t, 1, *d.WaitlistPosition)

	assert.Equal(t, []string{"student-b", "student-c"}, fixture.notifier.promoted)
	assert.Equal(t, 3, fixture.sessions.capacity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceCapacityDecreaseNeverDemotes(t *testing.T) {
	fixture, mock := newEnrollmentFixture(t, 3)
	fixture.repo.seedEnrolled("student-a", "student-b", "student-c")
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := fixture.service.UpdateCapacity(context.Background(), "session-1", UpdateCapacityRequest{Capacity: 1})
	require.NoError(t, err)

	for _, studentID := range []string{"student-a", "student-b", "student-c"} {
		assert.Equal(t, models.EnrollmentStatusEnrolled, fixture.repo.find(studentID).Status)
	}
	assert.Empty(t, fixture.notifier.promoted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceCapacityRejectsNonPositive(t *testing.T) {
	fixture, mock := newEnrollmentFixture(t, 2)

	err := fixture.service.UpdateCapacity(context.Background(), "session-1", UpdateCapacityRequest{Capacity: 0})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentServiceRosterGroupsBySeatState(t *testing.T) {
	fixture, _ := newEnrollmentFixture(t, 2)
	fixture.repo.seedEnrolled("student-a", "student-b")
	fixture.repo.seedWaitlisted("student-c")

	roster, err := fixture.service.Roster(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, 2, roster.Capacity)
	assert.Len(t, roster.Enrolled, 2)
	assert.Len(t, roster.Waitlisted, 1)
}

// --- Fixtures ---

type enrollmentFixture struct {
	service  *EnrollmentService
	sessions *sessionReaderStub
	repo     *enrollmentRepoStub
	students *studentReaderStub
	notifier *promotionRecorder
	metrics  *metricsRecorder
}

func newEnrollmentFixture(t *testing.T, capacity int) (*enrollmentFixture, sqlmock.Sqlmock) {
	txProvider, mock := newTxProviderMock(t)
	sessions := &sessionReaderStub{session: &models.StudySession{
		ID:       "session-1",
		Title:    "Algebra",
		Capacity: capacity,
		Status:   models.SessionStatusScheduled,
	}}
	repo := newEnrollmentRepoStub()
	students := newStudentReaderStub("student-a", "student-b", "student-c", "student-d", "student-e", "student-z")
	notifier := &promotionRecorder{}
	metrics := &metricsRecorder{}

	service := NewEnrollmentService(sessions, repo, students, notifier, metrics, txProvider, nil, nil)
	return &enrollmentFixture{
		service:  service,
		sessions: sessions,
		repo:     repo,
		students: students,
		notifier: notifier,
		metrics:  metrics,
	}, mock
}

type txProviderMock struct {
	db *sqlx.DB
}

func newTxProviderMock(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb}, mock
}

func (m *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return m.db.BeginTxx(ctx, opts)
}

type sessionReaderStub struct {
	session  *models.StudySession
	capacity int
	err      error
}

func (s *sessionReaderStub) FindByID(ctx context.Context, id string) (*models.StudySession, error) {
	if s.err != nil {
		return nil, s.err
	}
	copied := *s.session
	return &copied, nil
}

func (s *sessionReaderStub) FindByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.StudySession, error) {
	return s.FindByID(ctx, id)
}

func (s *sessionReaderStub) UpdateCapacity(ctx context.Context, exec sqlx.ExtContext, id string, capacity int) error {
	s.capacity = capacity
	return nil
}

type enrollmentRepoStub struct {
	entries []*models.StudySessionEnrollment
	nextID  int
}

func newEnrollmentRepoStub() *enrollmentRepoStub {
	return &enrollmentRepoStub{}
}

func (r *enrollmentRepoStub) seedEnrolled(studentIDs ...string) {
	for _, studentID := range studentIDs {
		r.nextID++
		r.entries = append(r.entries, &models.StudySessionEnrollment{
			ID:        fmt.Sprintf("enr-%d", r.nextID),
			SessionID: "session-1",
			StudentID: studentID,
			Status:    models.EnrollmentStatusEnrolled,
		})
	}
}

func (r *enrollmentRepoStub) seedWaitlisted(studentIDs ...string) {
	base := 0
	for _, entry := range r.entries {
		if entry.Status == models.EnrollmentStatusWaitlisted {
			base++
		}
	}
	for i, studentID := range studentIDs {
		r.nextID++
		position := base + i + 1
		r.entries = append(r.entries, &models.StudySessionEnrollment{
			ID:               fmt.Sprintf("enr-%d", r.nextID),
			SessionID:        "session-1",
			StudentID:        studentID,
			Status:           models.EnrollmentStatusWaitlisted,
			WaitlistPosition: &position,
		})
	}
}

func (r *enrollmentRepoStub) find(studentID string) *models.StudySessionEnrollment {
	for _, entry := range r.entries {
		if entry.StudentID == studentID {
			return entry
		}
	}
	return nil
}

func (r *enrollmentRepoStub) FindBySessionAndStudent(ctx context.Context, exec sqlx.ExtContext, sessionID, studentID string) (*models.StudySessionEnrollment, error) {
	if entry := r.find(studentID); entry != nil {
		copied := *entry
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (r *enrollmentRepoStub) ExistsAny(ctx context.Context, exec sqlx.ExtContext, sessionID, studentID string) (bool, error) {
	return r.find(studentID) != nil, nil
}

func (r *enrollmentRepoStub) CountEnrolled(ctx context.Context, exec sqlx.ExtContext, sessionID string) (int, error) {
	count := 0
	for _, entry := range r.entries {
		if entry.Status == models.EnrollmentStatusEnrolled {
			count++
		}
	}
	return count, nil
}

func (r *enrollmentRepoStub) MaxWaitlistPosition(ctx context.Context, exec sqlx.ExtContext, sessionID string) (int, error) {
	max := 0
	for _, entry := range r.entries {
		if entry.WaitlistPosition != nil && *entry.WaitlistPosition > max {
			max = *entry.WaitlistPosition
		}
	}
	return max, nil
}

func (r *enrollmentRepoStub) ListWaitlisted(ctx context.Context, exec sqlx.ExtContext, sessionID string) ([]models.StudySessionEnrollment, error) {
	var waitlist []models.StudySessionEnrollment
	for _, entry := range r.entries {
		if entry.Status == models.EnrollmentStatusWaitlisted {
			waitlist = append(waitlist, *entry)
		}
	}
	sort.Slice(waitlist, func(i, j int) bool {
		return *waitlist[i].WaitlistPosition < *waitlist[j].WaitlistPosition
	})
	return waitlist, nil
}

func (r *enrollmentRepoStub) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.StudySessionEnrollment) error {
	r.nextID++
	if enrollment.ID == "" {
		enrollment.ID = fmt.Sprintf("enr-%d", r.nextID)
	}
	copied := *enrollment
	r.entries = append(r.entries, &copied)
	return nil
}

func (r *enrollmentRepoStub) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	for i, entry := range r.entries {
		if entry.ID == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return nil
		}
	}
	return errors.New("enrollment not found")
}

func (r *enrollmentRepoStub) UpdateStatusAndPosition(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentStatus, position *int) error {
	for _, entry := range r.entries {
		if entry.ID == id {
			entry.Status = status
			entry.WaitlistPosition = position
			return nil
		}
	}
	return errors.New("enrollment not found")
}

func (r *enrollmentRepoStub) ListDetailBySession(ctx context.Context, sessionID string) ([]models.EnrollmentDetail, error) {
	details := make([]models.EnrollmentDetail, 0, len(r.entries))
	for _, entry := range r.entries {
		details = append(details, models.EnrollmentDetail{StudySessionEnrollment: *entry})
	}
	return details, nil
}

func (r *enrollmentRepoStub) ListEnrolledStudentIDs(ctx context.Context, sessionID string) ([]string, error) {
	var ids []string
	for _, entry := range r.entries {
		if entry.Status == models.EnrollmentStatusEnrolled {
			ids = append(ids, entry.StudentID)
		}
	}
	return ids, nil
}

type studentReaderStub struct {
	students map[string]*models.Student
}

func newStudentReaderStub(ids ...string) *studentReaderStub {
	students := make(map[string]*models.Student, len(ids))
	for _, id := range ids {
		students[id] = &models.Student{ID: id, FullName: id, Email: id + "@example.com", Active: true}
	}
	return &studentReaderStub{students: students}
}

func (s *studentReaderStub) FindByID(ctx context.Context, id string) (*models.Student, error) {
	student, ok := s.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

type promotionRecorder struct {
	promoted []string
}

func (p *promotionRecorder) WaitlistPromoted(ctx context.Context, session *models.StudySession, studentID string) {
	p.promoted = append(p.promoted, studentID)
}

type metricsRecorder struct {
	outcomes []string
}

func (m *metricsRecorder) RecordEnrollmentOutcome(outcome string) {
	m.outcomes = append(m.outcomes, outcome)
}
