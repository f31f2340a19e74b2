package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edukita/edukita-api/internal/models"
)

// SessionRepository handles persistence of study sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create persists a new session. Accepts any ExtContext so it can run
// inside the occurrence-materializing transaction.
func (r *SessionRepository) Create(ctx context.Context, exec sqlx.ExtContext, session *models.StudySession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = models.SessionStatusScheduled
	}
	const query = `INSERT INTO study_sessions
        (id, teacher_id, title, description, starts_at, ends_at, location, meeting_url, capacity, timezone, recurrence_rule, status, created_at, updated_at)
        VALUES (:id, :teacher_id, :title, :description, :starts_at, :ends_at, :location, :meeting_url, :capacity, :timezone, :recurrence_rule, :status, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns a session by its ID.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.StudySession, error) {
	const query = `SELECT id, teacher_id, title, description, starts_at, ends_at, location, meeting_url, capacity, timezone, recurrence_rule, status, created_at, updated_at
        FROM study_sessions WHERE id = $1`
	var session models.StudySession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByIDForUpdate loads a session inside a transaction holding a row
// lock, serializing enrollment mutations against the same session.
func (r *SessionRepository) FindByIDForUpdate(ctx context.Context, tx *sqlx.Tx, id string) (*models.StudySession, error) {
	const query = `SELECT id, teacher_id, title, description, starts_at, ends_at, location, meeting_url, capacity, timezone, recurrence_rule, status, created_at, updated_at
        FROM study_sessions WHERE id = $1 FOR UPDATE`
	var session models.StudySession
	if err := tx.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns sessions with teacher names and seat counts.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.StudySessionDetail, int, error) {
	base := `FROM study_sessions ss
LEFT JOIN teachers t ON t.id = ss.teacher_id`
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("ss.teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("ss.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("ss.starts_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("ss.starts_at <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"starts_at":  "ss.starts_at",
		"title":      "ss.title",
		"created_at": "ss.created_at",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "starts_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "ss.starts_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT ss.id, ss.teacher_id, ss.title, ss.description, ss.starts_at, ss.ends_at, ss.location, ss.meeting_url,
        ss.capacity, ss.timezone, ss.recurrence_rule, ss.status, ss.created_at, ss.updated_at,
        COALESCE(t.full_name, '') AS teacher_name,
        (SELECT COUNT(*) FROM study_session_enrollments e WHERE e.session_id = ss.id AND e.status = 'ENROLLED') AS enrolled_count,
        (SELECT COUNT(*) FROM study_session_enrollments e WHERE e.session_id = ss.id AND e.status = 'WAITLISTED') AS waitlist_length
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var sessions []models.StudySessionDetail
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return sessions, total, nil
}

// UpdateStatus transitions the session status.
func (r *SessionRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, id string, status models.SessionStatus) error {
	const query = `UPDATE study_sessions SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := exec.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// UpdateSchedule rewrites a session's window and venue fields. Existing
// occurrences keep their own times; callers regenerate explicitly if wanted.
func (r *SessionRepository) UpdateSchedule(ctx context.Context, session *models.StudySession) error {
	session.UpdatedAt = time.Now().UTC()
	const query = `UPDATE study_sessions
        SET title = :title, description = :description, starts_at = :starts_at, ends_at = :ends_at,
            location = :location, meeting_url = :meeting_url, timezone = :timezone, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("update session schedule: %w", err)
	}
	return nil
}

// UpdateCapacity sets a new seat capacity inside the caller's transaction.
func (r *SessionRepository) UpdateCapacity(ctx context.Context, exec sqlx.ExtContext, id string, capacity int) error {
	const query = `UPDATE study_sessions SET capacity = $2, updated_at = $3 WHERE id = $1`
	if _, err := exec.ExecContext(ctx, query, id, capacity, time.Now().UTC()); err != nil {
		return fmt.Errorf("update session capacity: %w", err)
	}
	return nil
}
