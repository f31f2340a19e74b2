package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edukita/edukita-api/internal/models"
)

// EnrollmentRepository handles persistence of session enrollments. The
// mutating methods accept an ExtContext because the enrollment state
// machine always runs inside a session-locked transaction.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindBySessionAndStudent returns the enrollment row for a pair, any status.
func (r *EnrollmentRepository) FindBySessionAndStudent(ctx context.Context, exec sqlx.ExtContext, sessionID, studentID string) (*models.StudySessionEnrollment, error) {
	const query = `SELECT id, session_id, student_id, status, waitlist_position, created_at
        FROM study_session_enrollments WHERE session_id = $1 AND student_id = $2`
	var enrollment models.StudySessionEnrollment
	if err := sqlx.GetContext(ctx, exec, &enrollment, query, sessionID, studentID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// CountEnrolled returns the number of seated enrollments for a session.
func (r *EnrollmentRepository) CountEnrolled(ctx context.Context, exec sqlx.ExtContext, sessionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM study_session_enrollments WHERE session_id = $1 AND status = $2`
	var count int
	if err := sqlx.GetContext(ctx, exec, &count, query, sessionID, models.EnrollmentStatusEnrolled); err != nil {
		return 0, fmt.Errorf("count enrolled: %w", err)
	}
	return count, nil
}

// MaxWaitlistPosition returns the highest waitlist position for a session,
// zero when the waitlist is empty.
func (r *EnrollmentRepository) MaxWaitlistPosition(ctx context.Context, exec sqlx.ExtContext, sessionID string) (int, error) {
	const query = `SELECT COALESCE(MAX(waitlist_position), 0) FROM study_session_enrollments WHERE session_id = $1 AND status = $2`
	var max int
	if err := sqlx.GetContext(ctx, exec, &max, query, sessionID, models.EnrollmentStatusWaitlisted); err != nil {
		return 0, fmt.Errorf("max waitlist position: %w", err)
	}
	return max, nil
}

// ListWaitlisted returns a session's waitlist ordered by position, which by
// construction is FIFO creation order.
func (r *EnrollmentRepository) ListWaitlisted(ctx context.Context, exec sqlx.ExtContext, sessionID string) ([]models.StudySessionEnrollment, error) {
	const query = `SELECT id, session_id, student_id, status, waitlist_position, created_at
        FROM study_session_enrollments WHERE session_id = $1 AND status = $2
        ORDER BY waitlist_position ASC`
	var enrollments []models.StudySessionEnrollment
	if err := sqlx.SelectContext(ctx, exec, &enrollments, query, sessionID, models.EnrollmentStatusWaitlisted); err != nil {
		return nil, fmt.Errorf("list waitlisted: %w", err)
	}
	return enrollments, nil
}

// Create persists a new enrollment row.
func (r *EnrollmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.StudySessionEnrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO study_session_enrollments (id, session_id, student_id, status, waitlist_position, created_at)
        VALUES (:id, :session_id, :student_id, :status, :waitlist_position, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Delete removes an enrollment row.
func (r *EnrollmentRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `DELETE FROM study_session_enrollments WHERE id = $1`
	if _, err := exec.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return nil
}

// UpdateStatusAndPosition rewrites an enrollment's seat state. Position is
// nil for ENROLLED rows.
func (r *EnrollmentRepository) UpdateStatusAndPosition(ctx context.Context, exec sqlx.ExtContext, id string, status models.EnrollmentStatus, position *int) error {
	const query = `UPDATE study_session_enrollments SET status = $2, waitlist_position = $3 WHERE id = $1`
	if _, err := exec.ExecContext(ctx, query, id, status, position); err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	return nil
}

// ListDetailBySession returns the full roster with student info, seated
// rows first, then the waitlist in position order.
func (r *EnrollmentRepository) ListDetailBySession(ctx context.Context, sessionID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.session_id, e.student_id, e.status, e.waitlist_position, e.created_at,
        COALESCE(s.full_name, '') AS student_name, COALESCE(s.email, '') AS student_email
        FROM study_session_enrollments e
        LEFT JOIN students s ON s.id = e.student_id
        WHERE e.session_id = $1
        ORDER BY e.status ASC, e.waitlist_position ASC NULLS FIRST, e.created_at ASC`
	var details []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &details, query, sessionID); err != nil {
		return nil, fmt.Errorf("list session roster: %w", err)
	}
	return details, nil
}

// ListEnrolledStudentIDs returns student IDs holding seats in a session.
func (r *EnrollmentRepository) ListEnrolledStudentIDs(ctx context.Context, sessionID string) ([]string, error) {
	const query = `SELECT student_id FROM study_session_enrollments WHERE session_id = $1 AND status = $2 ORDER BY created_at ASC`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, sessionID, models.EnrollmentStatusEnrolled); err != nil {
		return nil, fmt.Errorf("list enrolled students: %w", err)
	}
	return ids, nil
}

// ExistsAny reports whether any row exists for a (session, student) pair.
func (r *EnrollmentRepository) ExistsAny(ctx context.Context, exec sqlx.ExtContext, sessionID, studentID string) (bool, error) {
	const query = `SELECT 1 FROM study_session_enrollments WHERE session_id = $1 AND student_id = $2 LIMIT 1`
	var exists int
	if err := sqlx.GetContext(ctx, exec, &exists, query, sessionID, studentID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return true, nil
}
