package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edukita/edukita-api/internal/models"
)

func TestOccurrenceRepositoryCreateBatchDefaultsIDs(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewOccurrenceRepository(db)

	now := time.Now()
	mock.ExpectExec("INSERT INTO study_session_occurrences").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO study_session_occurrences").
		WillReturnResult(sqlmock.NewResult(1, 1))

	occurrences := []models.StudySessionOccurrence{
		{SessionID: "session-1", StartsAt: now, EndsAt: now.Add(time.Hour)},
		{SessionID: "session-1", StartsAt: now.AddDate(0, 0, 7), EndsAt: now.AddDate(0, 0, 7).Add(time.Hour)},
	}
	require.NoError(t, repo.CreateBatch(context.Background(), db, occurrences))
	for _, occurrence := range occurrences {
		assert.NotEmpty(t, occurrence.ID)
		assert.Equal(t, models.OccurrenceStatusScheduled, occurrence.Status)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOccurrenceRepositoryCreateBatchEmpty(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewOccurrenceRepository(db)

	require.NoError(t, repo.CreateBatch(context.Background(), db, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOccurrenceRepositoryListDueReminders(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewOccurrenceRepository(db)

	now := time.Now().UTC()
	lead := time.Hour
	rows := sqlmock.NewRows([]string{"id", "session_id", "starts_at", "ends_at", "status", "reminder_sent_at"}).
		AddRow("occ-1", "session-1", now.Add(30*time.Minute), now.Add(90*time.Minute), "scheduled", nil)
	mock.ExpectQuery("SELECT o.id, o.session_id, .+reminder_sent_at\\s+FROM study_session_occurrences o\\s+JOIN study_sessions ss ON ss.id = o.session_id").
		WithArgs(models.OccurrenceStatusScheduled, models.SessionStatusScheduled, now, now.Add(lead)).
		WillReturnRows(rows)

	due, err := repo.ListDueReminders(context.Background(), now, lead)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "occ-1", due[0].ID)
	assert.Nil(t, due[0].ReminderSentAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOccurrenceRepositoryMarkReminderSent(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewOccurrenceRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE study_session_occurrences SET reminder_sent_at = $2 WHERE id = $1")).
		WithArgs("occ-1", at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.MarkReminderSent(context.Background(), "occ-1", at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOccurrenceRepositoryCancelFutureBySession(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewOccurrenceRepository(db)

	cutoff := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE study_session_occurrences SET status = $3 WHERE session_id = $1 AND starts_at > $2")).
		WithArgs("session-1", cutoff, models.OccurrenceStatusCancelled).
		WillReturnResult(sqlmock.NewResult(1, 2))

	require.NoError(t, repo.CancelFutureBySession(context.Background(), db, "session-1", cutoff))
	assert.NoError(t, mock.ExpectationsWereMet())
}
