package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/edukita/edukita-api/internal/models"
)

// StudentRepository reads students and their guardians. Profile management
// belongs to another bounded context; this repository only serves the
// enrollment and notification paths.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID returns a student by its ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, full_name, email, active FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// ListGuardiansByStudent returns all guardians for a student.
func (r *StudentRepository) ListGuardiansByStudent(ctx context.Context, studentID string) ([]models.Guardian, error) {
	const query = `SELECT id, student_id, full_name, email, notify_opt_in FROM guardians WHERE student_id = $1`
	var guardians []models.Guardian
	if err := r.db.SelectContext(ctx, &guardians, query, studentID); err != nil {
		return nil, fmt.Errorf("list guardians: %w", err)
	}
	return guardians, nil
}

// ListOptedInGuardians returns opted-in guardians for a set of students in
// chunks, mirroring the bulk-read idiom used elsewhere.
func (r *StudentRepository) ListOptedInGuardians(ctx context.Context, studentIDs []string) ([]models.Guardian, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	const chunkSize = 100
	var guardians []models.Guardian
	for start := 0; start < len(studentIDs); start += chunkSize {
		end := start + chunkSize
		if end > len(studentIDs) {
			end = len(studentIDs)
		}
		chunk := studentIDs[start:end]
		placeholders := make([]string, len(chunk))
		args := make([]interface{}, len(chunk))
		for i, id := range chunk {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = id
		}
		query := fmt.Sprintf(`SELECT id, student_id, full_name, email, notify_opt_in FROM guardians
            WHERE notify_opt_in = TRUE AND student_id IN (%s)`, strings.Join(placeholders, ","))
		var batch []models.Guardian
		if err := r.db.SelectContext(ctx, &batch, query, args...); err != nil {
			return nil, fmt.Errorf("list opted-in guardians: %w", err)
		}
		guardians = append(guardians, batch...)
	}
	return guardians, nil
}
