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

var sessionColumns = []string{
	"id", "teacher_id", "title", "description", "starts_at", "ends_at",
	"location", "meeting_url", "capacity", "timezone", "recurrence_rule",
	"status", "created_at", "updated_at",
}

func TestSessionRepositoryCreateDefaultsFields(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec("INSERT INTO study_sessions").
		WillReturnResult(sqlmock.NewResult(1, 1))

	session := &models.StudySession{
		TeacherID: "teacher-1",
		Title:     "Algebra",
		StartsAt:  time.Now(),
		EndsAt:    time.Now().Add(time.Hour),
		Capacity:  5,
		Timezone:  "UTC",
	}
	require.NoError(t, repo.Create(context.Background(), db, session))
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, models.SessionStatusScheduled, session.Status)
	assert.False(t, session.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryFindByIDForUpdateLocksRow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+\\s+FROM study_sessions WHERE id = \\$1 FOR UPDATE").
		WithArgs("session-1").
		WillReturnRows(sqlmock.NewRows(sessionColumns).
			AddRow("session-1", "teacher-1", "Algebra", "", now, now.Add(time.Hour),
				"", "", 5, "UTC", nil, "SCHEDULED", now, now))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)

	session, err := repo.FindByIDForUpdate(context.Background(), tx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, "session-1", session.ID)
	assert.Equal(t, 5, session.Capacity)

	require.NoError(t, tx.Commit())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryListFiltersAndCounts(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	columns := append(append([]string{}, sessionColumns...), "teacher_name", "enrolled_count", "waitlist_length")
	mock.ExpectQuery("(?s)SELECT ss.id, .+FROM study_sessions ss\\s+LEFT JOIN teachers t ON t.id = ss.teacher_id WHERE ss.teacher_id = \\$1 AND ss.status = \\$2 ORDER BY ss.starts_at ASC LIMIT 20 OFFSET 0").
		WithArgs("teacher-1", models.SessionStatusScheduled).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("session-1", "teacher-1", "Algebra", "", now, now.Add(time.Hour),
				"", "", 5, "UTC", nil, "SCHEDULED", now, now, "Ms. Priya", 3, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM study_sessions ss")).
		WithArgs("teacher-1", models.SessionStatusScheduled).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	sessions, total, err := repo.List(context.Background(), models.SessionFilter{
		TeacherID: "teacher-1",
		Status:    models.SessionStatusScheduled,
	})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Ms. Priya", sessions[0].TeacherName)
	assert.Equal(t, 3, sessions[0].EnrolledCount)
	assert.Equal(t, 1, sessions[0].WaitlistLength)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryListRejectsUnknownSortColumn(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	// An unrecognized sort falls back to starts_at instead of interpolating
	// caller input.
	mock.ExpectQuery("ORDER BY ss.starts_at ASC LIMIT 20 OFFSET 0").
		WillReturnRows(sqlmock.NewRows(append(append([]string{}, sessionColumns...), "teacher_name", "enrolled_count", "waitlist_length")))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM study_sessions ss")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, _, err := repo.List(context.Background(), models.SessionFilter{SortBy: "capacity; DROP TABLE"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE study_sessions SET status = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("session-1", models.SessionStatusCancelled, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), db, "session-1", models.SessionStatusCancelled))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepositoryUpdateCapacity(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE study_sessions SET capacity = $2, updated_at = $3 WHERE id = $1")).
		WithArgs("session-1", 8, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.UpdateCapacity(context.Background(), db, "session-1", 8))
	assert.NoError(t, mock.ExpectationsWereMet())
}
