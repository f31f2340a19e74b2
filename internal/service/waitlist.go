package service

import "github.com/edukita/edukita-api/internal/models"

// Renumber rewrites waitlist positions into a contiguous 1..N sequence,
// preserving the slice's relative order. It returns a copy; the input is
// expected to already be in FIFO order (position ascending).
func Renumber(waitlist []models.StudySessionEnrollment) []models.StudySessionEnrollment {
	renumbered := make([]models.StudySessionEnrollment, len(waitlist))
	for i, entry := range waitlist {
		position := i + 1
		entry.WaitlistPosition = &position
		renumbered[i] = entry
	}
	return renumbered
}
