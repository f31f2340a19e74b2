package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/edukita/edukita-api/internal/models"
	appErrors "github.com/edukita/edukita-api/pkg/errors"
	"github.com/edukita/edukita-api/pkg/export"
)

type rosterProvider interface {
	Roster(ctx context.Context, sessionID string) (*models.SessionRoster, error)
}

type rosterSessionReader interface {
	Get(ctx context.Context, id string) (*models.StudySession, error)
}

// ExportFormat identifies a roster export encoding.
type ExportFormat string

// Supported export formats.
const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult carries rendered bytes plus response metadata.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

// RosterExportService renders a session roster as CSV or PDF.
type RosterExportService struct {
	rosters  rosterProvider
	sessions rosterSessionReader
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
}

// NewRosterExportService constructs the export service.
func NewRosterExportService(rosters rosterProvider, sessions rosterSessionReader) *RosterExportService {
	return &RosterExportService{
		rosters:  rosters,
		sessions: sessions,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
	}
}

// Export renders the roster for a session in the requested format.
func (s *RosterExportService) Export(ctx context.Context, sessionID string, format ExportFormat) (*ExportResult, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	roster, err := s.rosters.Roster(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	dataset := rosterDataset(roster)
	switch format {
	case ExportFormatCSV:
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv roster")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "text/csv",
			Filename:    fmt.Sprintf("roster-%s.csv", sessionID),
		}, nil
	case ExportFormatPDF:
		content, err := s.pdf.Render(dataset, fmt.Sprintf("Roster - %s", session.Title))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf roster")
		}
		return &ExportResult{
			Content:     content,
			ContentType: "application/pdf",
			Filename:    fmt.Sprintf("roster-%s.pdf", sessionID),
		}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

func rosterDataset(roster *models.SessionRoster) export.Dataset {
	headers := []string{"Student", "Email", "Status", "Waitlist Position", "Enrolled At"}
	rows := make([]map[string]string, 0, len(roster.Enrolled)+len(roster.Waitlisted))
	appendRows := func(entries []models.EnrollmentDetail) {
		for _, entry := range entries {
			position := ""
			if entry.WaitlistPosition != nil {
				position = strconv.Itoa(*entry.WaitlistPosition)
			}
			rows = append(rows, map[string]string{
				"Student":           entry.StudentName,
				"Email":             entry.StudentEmail,
				"Status":            string(entry.Status),
				"Waitlist Position": position,
				"Enrolled At":       entry.CreatedAt.Format("2006-01-02 15:04"),
			})
		}
	}
	appendRows(roster.Enrolled)
	appendRows(roster.Waitlisted)
	return export.Dataset{Headers: headers, Rows: rows}
}
