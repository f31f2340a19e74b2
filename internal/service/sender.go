package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/edukita/edukita-api/internal/models"
)

// LoggingSender is the default delivery collaborator. It records each
// notification in the structured log; swapping in an email or push
// gateway only requires another Sender.
type LoggingSender struct {
	logger *zap.Logger
}

// NewLoggingSender constructs LoggingSender.
func NewLoggingSender(logger *zap.Logger) *LoggingSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingSender{logger: logger}
}

// Send implements Sender.
func (s *LoggingSender) Send(ctx context.Context, notification models.Notification) error {
	emails := make([]string, 0, len(notification.Recipients))
	for _, recipient := range notification.Recipients {
		emails = append(emails, recipient.Email)
	}
	fields := []zap.Field{
		zap.String("kind", string(notification.Kind)),
		zap.Strings("recipients", emails),
	}
	if notification.Session != nil {
		fields = append(fields, zap.String("session_id", notification.Session.ID))
	}
	if notification.Occurrence != nil {
		fields = append(fields, zap.String("occurrence_id", notification.Occurrence.ID))
	}
	s.logger.Info("notification delivered", fields...)
	return nil
}
