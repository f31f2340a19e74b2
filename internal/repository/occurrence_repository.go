package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edukita/edukita-api/internal/models"
)

// OccurrenceRepository handles persistence of session occurrences.
type OccurrenceRepository struct {
	db *sqlx.DB
}

// NewOccurrenceRepository constructs the repository.
func NewOccurrenceRepository(db *sqlx.DB) *OccurrenceRepository {
	return &OccurrenceRepository{db: db}
}

// CreateBatch persists materialized occurrences inside the session
// creation transaction.
func (r *OccurrenceRepository) CreateBatch(ctx context.Context, exec sqlx.ExtContext, occurrences []models.StudySessionOccurrence) error {
	if len(occurrences) == 0 {
		return nil
	}
	const query = `INSERT INTO study_session_occurrences (id, session_id, starts_at, ends_at, status, reminder_sent_at)
        VALUES (:id, :session_id, :starts_at, :ends_at, :status, :reminder_sent_at)`
	for i := range occurrences {
		if occurrences[i].ID == "" {
			occurrences[i].ID = uuid.NewString()
		}
		if occurrences[i].Status == "" {
			occurrences[i].Status = models.OccurrenceStatusScheduled
		}
		if _, err := sqlx.NamedExecContext(ctx, exec, query, occurrences[i]); err != nil {
			return fmt.Errorf("create occurrence: %w", err)
		}
	}
	return nil
}

// FindByID returns an occurrence by its ID.
func (r *OccurrenceRepository) FindByID(ctx context.Context, id string) (*models.StudySessionOccurrence, error) {
	const query = `SELECT id, session_id, starts_at, ends_at, status, reminder_sent_at
        FROM study_session_occurrences WHERE id = $1`
	var occurrence models.StudySessionOccurrence
	if err := r.db.GetContext(ctx, &occurrence, query, id); err != nil {
		return nil, err
	}
	return &occurrence, nil
}

// ListBySession returns a session's occurrences in chronological order.
func (r *OccurrenceRepository) ListBySession(ctx context.Context, sessionID string) ([]models.StudySessionOccurrence, error) {
	const query = `SELECT id, session_id, starts_at, ends_at, status, reminder_sent_at
        FROM study_session_occurrences WHERE session_id = $1 ORDER BY starts_at ASC`
	var occurrences []models.StudySessionOccurrence
	if err := r.db.SelectContext(ctx, &occurrences, query, sessionID); err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	return occurrences, nil
}

// CancelFutureBySession marks occurrences starting after the cutoff as
// cancelled. Past occurrences keep their status for history.
func (r *OccurrenceRepository) CancelFutureBySession(ctx context.Context, exec sqlx.ExtContext, sessionID string, after time.Time) error {
	const query = `UPDATE study_session_occurrences SET status = $3 WHERE session_id = $1 AND starts_at > $2`
	if _, err := exec.ExecContext(ctx, query, sessionID, after, models.OccurrenceStatusCancelled); err != nil {
		return fmt.Errorf("cancel future occurrences: %w", err)
	}
	return nil
}

// ListDueReminders returns scheduled occurrences of non-cancelled sessions
// starting within the lead window that have not been reminded yet.
func (r *OccurrenceRepository) ListDueReminders(ctx context.Context, now time.Time, leadTime time.Duration) ([]models.StudySessionOccurrence, error) {
	const query = `SELECT o.id, o.session_id, o.starts_at, o.ends_at, o.status, o.reminder_sent_at
        FROM study_session_occurrences o
        JOIN study_sessions ss ON ss.id = o.session_id
        WHERE o.status = $1 AND ss.status = $2 AND o.reminder_sent_at IS NULL
          AND o.starts_at > $3 AND o.starts_at <= $4
        ORDER BY o.starts_at ASC`
	var occurrences []models.StudySessionOccurrence
	if err := r.db.SelectContext(ctx, &occurrences, query,
		models.OccurrenceStatusScheduled, models.SessionStatusScheduled, now, now.Add(leadTime)); err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return occurrences, nil
}

// MarkReminderSent stamps the occurrence so the worker never double-fires.
func (r *OccurrenceRepository) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE study_session_occurrences SET reminder_sent_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}
