package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edukita/edukita-api/internal/models"
	appErrors "github.com/edukita/edukita-api/pkg/errors"
)

func TestReminderServiceSweepSendsAndStamps(t *testing.T) {
	fixture := newReminderFixture(t)
	fixture.occurrences.due = []models.StudySessionOccurrence{
		{ID: "occ-1", SessionID: "session-1", Status: models.OccurrenceStatusScheduled},
		{ID: "occ-2", SessionID: "session-1", Status: models.OccurrenceStatusScheduled},
	}

	sent, err := fixture.service.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{"occ-1", "occ-2"}, fixture.occurrences.marked)
	assert.Len(t, fixture.notifier.reminded, 2)
}

func TestReminderServiceSweepIsolatesFailures(t *testing.T) {
	fixture := newReminderFixture(t)
	fixture.occurrences.due = []models.StudySessionOccurrence{
		{ID: "occ-1", SessionID: "session-1", Status: models.OccurrenceStatusScheduled},
		{ID: "occ-2", SessionID: "session-1", Status: models.OccurrenceStatusScheduled},
	}
	fixture.notifier.failFor = "occ-1"

	sent, err := fixture.service.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	// The failed occurrence is left unstamped so the next sweep retries it.
	assert.Equal(t, []string{"occ-2"}, fixture.occurrences.marked)
}

func TestReminderServiceTriggerSendsOnce(t *testing.T) {
	fixture := newReminderFixture(t)
	fixture.occurrences.byID = map[string]*models.StudySessionOccurrence{
		"occ-1": {ID: "occ-1", SessionID: "session-1", Status: models.OccurrenceStatusScheduled},
	}

	require.NoError(t, fixture.service.Trigger(context.Background(), "occ-1"))
	assert.Equal(t, []string{"occ-1"}, fixture.occurrences.marked)
}

func TestReminderServiceTriggerRejectsAlreadySent(t *testing.T) {
	fixture := newReminderFixture(t)
	sentAt := time.Now().UTC()
	fixture.occurrences.byID = map[string]*models.StudySessionOccurrence{
		"occ-1": {ID: "occ-1", SessionID: "session-1", Status: models.OccurrenceStatusScheduled, ReminderSentAt: &sentAt},
	}

	err := fixture.service.Trigger(context.Background(), "occ-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fixture.occurrences.marked)
}

func TestReminderServiceTriggerRejectsCancelledOccurrence(t *testing.T) {
	fixture := newReminderFixture(t)
	fixture.occurrences.byID = map[string]*models.StudySessionOccurrence{
		"occ-1": {ID: "occ-1", SessionID: "session-1", Status: models.OccurrenceStatusCancelled},
	}

	err := fixture.service.Trigger(context.Background(), "occ-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestReminderServiceTriggerUnknownOccurrence(t *testing.T) {
	fixture := newReminderFixture(t)

	err := fixture.service.Trigger(context.Background(), "occ-x")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

// --- Fixtures ---

type reminderFixture struct {
	service     *ReminderService
	occurrences *reminderOccurrenceStub
	notifier    *reminderRecorder
}

func newReminderFixture(t *testing.T) *reminderFixture {
	occurrences := &reminderOccurrenceStub{}
	sessions := &sessionRepoStub{session: &models.StudySession{
		ID:        "session-1",
		TeacherID: "teacher-1",
		Title:     "Algebra",
		Status:    models.SessionStatusScheduled,
	}}
	notifier := &reminderRecorder{}
	service := NewReminderService(occurrences, sessions, notifier, nil, nil, ReminderServiceConfig{
		LeadTime:     24 * time.Hour,
		PollInterval: time.Minute,
	})
	return &reminderFixture{service: service, occurrences: occurrences, notifier: notifier}
}

type reminderOccurrenceStub struct {
	due    []models.StudySessionOccurrence
	byID   map[string]*models.StudySessionOccurrence
	marked []string
}

func (s *reminderOccurrenceStub) FindByID(ctx context.Context, id string) (*models.StudySessionOccurrence, error) {
	occurrence, ok := s.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return occurrence, nil
}

func (s *reminderOccurrenceStub) ListDueReminders(ctx context.Context, now time.Time, leadTime time.Duration) ([]models.StudySessionOccurrence, error) {
	return s.due, nil
}

func (s *reminderOccurrenceStub) MarkReminderSent(ctx context.Context, id string, at time.Time) error {
	s.marked = append(s.marked, id)
	return nil
}

type reminderRecorder struct {
	reminded []string
	failFor  string
}

func (r *reminderRecorder) Reminder(ctx context.Context, session *models.StudySession, occurrence *models.StudySessionOccurrence) error {
	if r.failFor == occurrence.ID {
		return errors.New("delivery refused")
	}
	r.reminded = append(r.reminded, occurrence.ID)
	return nil
}
