package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStudentRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, full_name, email, active FROM students WHERE id = $1")).
		WithArgs("student-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "email", "active"}).
			AddRow("student-1", "Student A", "a@example.com", true))

	student, err := repo.FindByID(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, "Student A", student.FullName)
	assert.True(t, student.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListOptedInGuardians(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	rows := sqlmock.NewRows([]string{"id", "student_id", "full_name", "email", "notify_opt_in"}).
		AddRow("guardian-1", "student-1", "Guardian A", "ga@example.com", true)
	mock.ExpectQuery("SELECT id, student_id, full_name, email, notify_opt_in FROM guardians\\s+WHERE notify_opt_in = TRUE AND student_id IN \\(\\$1,\\$2\\)").
		WithArgs("student-1", "student-2").
		WillReturnRows(rows)

	guardians, err := repo.ListOptedInGuardians(context.Background(), []string{"student-1", "student-2"})
	require.NoError(t, err)
	require.Len(t, guardians, 1)
	assert.Equal(t, "guardian-1", guardians[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepositoryListOptedInGuardiansEmptyInput(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewStudentRepository(db)

	guardians, err := repo.ListOptedInGuardians(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, guardians)
	assert.NoError(t, mock.ExpectationsWereMet())
}
