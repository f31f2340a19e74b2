package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edukita/edukita-api/internal/models"
	"github.com/edukita/edukita-api/internal/recurrence"
	"github.com/edukita/edukita-api/internal/repository"
	"github.com/edukita/edukita-api/pkg/config"
	"github.com/edukita/edukita-api/pkg/database"
)

// Seeds a development database with a teacher, a handful of students with
// guardians, and one recurring study session.
func main() {
	var (
		students int
		weeks    int
		capacity int
	)
	flag.IntVar(&students, "students", 8, "Number of students to create")
	flag.IntVar(&weeks, "weeks", 4, "Number of weekly occurrences for the sample session")
	flag.IntVar(&capacity, "capacity", 5, "Sample session capacity")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	teacherID := uuid.NewString()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO teachers (id, full_name, email, active) VALUES ($1, $2, $3, TRUE)`,
		teacherID, "Dewi Lestari", "dewi.lestari@edukita.dev"); err != nil {
		log.Fatalf("failed to seed teacher: %v", err)
	}

	for i := 1; i <= students; i++ {
		studentID := uuid.NewString()
		if _, err := db.ExecContext(ctx,
			`INSERT INTO students (id, full_name, email, active) VALUES ($1, $2, $3, TRUE)`,
			studentID,
			fmt.Sprintf("Student %02d", i),
			fmt.Sprintf("student%02d@edukita.dev", i)); err != nil {
			log.Fatalf("failed to seed student %d: %v", i, err)
		}
		// Every other guardian opts out of notifications.
		if _, err := db.ExecContext(ctx,
			`INSERT INTO guardians (id, student_id, full_name, email, notify_opt_in) VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(),
			studentID,
			fmt.Sprintf("Guardian %02d", i),
			fmt.Sprintf("guardian%02d@edukita.dev", i),
			i%2 == 0); err != nil {
			log.Fatalf("failed to seed guardian %d: %v", i, err)
		}
	}

	starts := time.Now().UTC().Truncate(time.Hour).Add(48 * time.Hour)
	session := &models.StudySession{
		TeacherID:      teacherID,
		Title:          "Intro to Algebra",
		Description:    "Weekly small-group algebra coaching",
		StartsAt:       starts,
		EndsAt:         starts.Add(90 * time.Minute),
		Location:       "Room 2B",
		Capacity:       capacity,
		Timezone:       "Asia/Jakarta",
		RecurrenceRule: recurrence.ToRule(recurrence.FrequencyWeekly, weeks),
		Status:         models.SessionStatusScheduled,
	}

	if err := seedSession(ctx, db, session, weeks); err != nil {
		log.Fatalf("failed to seed session: %v", err)
	}

	log.Printf("seeded teacher %s, %d students, session %s with %d occurrences",
		teacherID, students, session.ID, weeks)
}

func seedSession(ctx context.Context, db *sqlx.DB, session *models.StudySession, weeks int) error {
	sessionRepo := repository.NewSessionRepository(db)
	occurrenceRepo := repository.NewOccurrenceRepository(db)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := sessionRepo.Create(ctx, tx, session); err != nil {
		return err
	}

	windows := recurrence.Generate(session.StartsAt, session.EndsAt, recurrence.FrequencyWeekly, weeks)
	occurrences := make([]models.StudySessionOccurrence, 0, len(windows))
	for _, window := range windows {
		occurrences = append(occurrences, models.StudySessionOccurrence{
			SessionID: session.ID,
			StartsAt:  window.StartsAt,
			EndsAt:    window.EndsAt,
			Status:    models.OccurrenceStatusScheduled,
		})
	}
	if err := occurrenceRepo.CreateBatch(ctx, tx, occurrences); err != nil {
		return err
	}

	return tx.Commit()
}
