package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edukita/edukita-api/internal/models"
	"github.com/edukita/edukita-api/pkg/jobs"
)

type notificationEnrollmentReader interface {
	ListEnrolledStudentIDs(ctx context.Context, sessionID string) ([]string, error)
}

type notificationStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ListOptedInGuardians(ctx context.Context, studentIDs []string) ([]models.Guardian, error)
}

type notificationTeacherReader interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

// Sender delivers a composed notification to the outside world. The core
// never formats or transmits messages itself.
type Sender interface {
	Send(ctx context.Context, notification models.Notification) error
}

// NotificationService resolves recipients and hands notifications to a
// background queue. Delivery failures never surface to callers.
type NotificationService struct {
	enrollments notificationEnrollmentReader
	students    notificationStudentReader
	teachers    notificationTeacherReader
	queue       *jobs.Queue
	logger      *zap.Logger
}

// NewNotificationService wires the service and its delivery queue.
func NewNotificationService(enrollments notificationEnrollmentReader, students notificationStudentReader, teachers notificationTeacherReader, sender Sender, cfg jobs.QueueConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{
		enrollments: enrollments,
		students:    students,
		teachers:    teachers,
		logger:      logger,
	}
	s.queue = jobs.NewQueue("notifications", s.deliver(sender), cfg)
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the delivery workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// QueueDepth reports pending deliveries for metrics.
func (s *NotificationService) QueueDepth() int {
	return s.queue.Depth()
}

// SessionUpdated notifies the teacher, enrolled students, and their
// opted-in guardians that a session changed or was cancelled.
func (s *NotificationService) SessionUpdated(ctx context.Context, session *models.StudySession) {
	recipients, err := s.sessionAudience(ctx, session)
	if err != nil {
		s.logger.Error("failed to resolve session audience",
			zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	s.enqueue(models.Notification{
		Kind:       models.NotificationSessionUpdated,
		Session:    session,
		Recipients: recipients,
	})
}

// WaitlistPromoted notifies a promoted student and their opted-in
// guardians that a seat opened up.
func (s *NotificationService) WaitlistPromoted(ctx context.Context, session *models.StudySession, studentID string) {
	recipients, err := s.studentAudience(ctx, studentID)
	if err != nil {
		s.logger.Error("failed to resolve promotion audience",
			zap.String("session_id", session.ID),
			zap.String("student_id", studentID), zap.Error(err))
		return
	}
	s.enqueue(models.Notification{
		Kind:       models.NotificationWaitlistPromoted,
		Session:    session,
		Recipients: recipients,
	})
}

// Reminder notifies the session audience about an upcoming occurrence.
func (s *NotificationService) Reminder(ctx context.Context, session *models.StudySession, occurrence *models.StudySessionOccurrence) error {
	recipients, err := s.sessionAudience(ctx, session)
	if err != nil {
		return fmt.Errorf("resolve reminder audience for session %s: %w", session.ID, err)
	}
	s.enqueue(models.Notification{
		Kind:       models.NotificationReminder,
		Session:    session,
		Occurrence: occurrence,
		Recipients: recipients,
	})
	return nil
}

func (s *NotificationService) deliver(sender Sender) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		notification, ok := job.Payload.(models.Notification)
		if !ok {
			s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
			return nil
		}
		if sender == nil {
			return nil
		}
		return sender.Send(ctx, notification)
	}
}

func (s *NotificationService) enqueue(notification models.Notification) {
	if len(notification.Recipients) == 0 {
		return
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    string(notification.Kind),
		Payload: notification,
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Error("failed to enqueue notification",
			zap.String("kind", string(notification.Kind)), zap.Error(err))
	}
}

// sessionAudience is the teacher plus every enrolled student and their
// opted-in guardians, deduplicated by recipient ID.
func (s *NotificationService) sessionAudience(ctx context.Context, session *models.StudySession) ([]models.Recipient, error) {
	var recipients []models.Recipient

	teacher, err := s.teachers.FindByID(ctx, session.TeacherID)
	if err != nil {
		s.logger.Warn("skipping unknown teacher recipient",
			zap.String("teacher_id", session.TeacherID), zap.Error(err))
	} else {
		recipients = append(recipients, models.Recipient{
			ID:    teacher.ID,
			Role:  models.RecipientRoleTeacher,
			Name:  teacher.FullName,
			Email: teacher.Email,
		})
	}

	studentIDs, err := s.enrollments.ListEnrolledStudentIDs(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("list enrolled students: %w", err)
	}
	for _, studentID := range studentIDs {
		student, err := s.students.FindByID(ctx, studentID)
		if err != nil {
			s.logger.Warn("skipping unknown student recipient",
				zap.String("student_id", studentID), zap.Error(err))
			continue
		}
		recipients = append(recipients, models.Recipient{
			ID:    student.ID,
			Role:  models.RecipientRoleStudent,
			Name:  student.FullName,
			Email: student.Email,
		})
	}

	if len(studentIDs) > 0 {
		guardians, err := s.students.ListOptedInGuardians(ctx, studentIDs)
		if err != nil {
			return nil, fmt.Errorf("list guardians: %w", err)
		}
		for _, guardian := range guardians {
			recipients = append(recipients, models.Recipient{
				ID:    guardian.ID,
				Role:  models.RecipientRoleGuardian,
				Name:  guardian.FullName,
				Email: guardian.Email,
			})
		}
	}

	return dedupeRecipients(recipients), nil
}

func (s *NotificationService) studentAudience(ctx context.Context, studentID string) ([]models.Recipient, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("load student %s: %w", studentID, err)
	}
	recipients := []models.Recipient{{
		ID:    student.ID,
		Role:  models.RecipientRoleStudent,
		Name:  student.FullName,
		Email: student.Email,
	}}

	guardians, err := s.students.ListOptedInGuardians(ctx, []string{studentID})
	if err != nil {
		return nil, fmt.Errorf("list guardians: %w", err)
	}
	for _, guardian := range guardians {
		recipients = append(recipients, models.Recipient{
			ID:    guardian.ID,
			Role:  models.RecipientRoleGuardian,
			Name:  guardian.FullName,
			Email: guardian.Email,
		})
	}
	return dedupeRecipients(recipients), nil
}

func dedupeRecipients(recipients []models.Recipient) []models.Recipient {
	seen := make(map[string]struct{}, len(recipients))
	deduped := recipients[:0]
	for _, recipient := range recipients {
		if _, ok := seen[recipient.ID]; ok {
			continue
		}
		seen[recipient.ID] = struct{}{}
		deduped = append(deduped, recipient)
	}
	return deduped
}
