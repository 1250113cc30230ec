package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/policy"
	appErrors "github.com/noah-isme/mailtrack-api/pkg/errors"
	"github.com/noah-isme/mailtrack-api/pkg/export"
	"github.com/noah-isme/mailtrack-api/pkg/logger"
)

// ExportFormat selects the register rendering.
type ExportFormat string

const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
)

type registerSource interface {
	ListForExport(ctx context.Context, actor *policy.Actor, filter models.MailFilter, limit int) ([]models.MailRecord, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string, weights ...float64) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	Enabled bool
	MaxRows int
}

// ExportResult is a rendered register ready to send.
type ExportResult struct {
	FileName    string
	ContentType string
	Data        []byte
	Rows        int
}

var registerHeaders = []string{
	"Sl No", "Letter No", "Subject", "From", "Received", "Due", "Action Required",
	"Section", "Handlers", "Status", "Overdue", "Time In Stage", "Completed",
}

var registerWeights = []float64{1.1, 1.2, 3, 1.8, 1, 1, 1.2, 1.4, 2, 1, 0.8, 1.3, 1}

// ExportService renders the mail register visible to the caller.
type ExportService struct {
	source      registerSource
	assignments activeAssigneeLoader
	csv    csvRenderer
	pdf    pdfRenderer
	cfg    ExportConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(source registerSource, assignments activeAssigneeLoader, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 5000
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{source: source, assignments: assignments, csv: csv, pdf: pdf, cfg: cfg, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Register renders the filtered register in the requested format.
func (s *ExportService) Register(ctx context.Context, actor *policy.Actor, filter models.MailFilter, format ExportFormat) (*ExportResult, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "exports are disabled")
	}
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, policy.ReasonMissingContext.Message())
	}
	format = ExportFormat(strings.ToLower(string(format)))
	if format == "" {
		format = ExportCSV
	}
	if format != ExportCSV && format != ExportPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	mails, err := s.source.ListForExport(ctx, actor, filter, s.cfg.MaxRows)
	if err != nil {
		return nil, internal(err, "failed to load register")
	}
	if err := attachActiveAssignments(ctx, s.assignments, mails); err != nil {
		return nil, internal(err, "failed to load assignees")
	}
	now := s.now()
	dataset := RegisterDataset(mails, now)

	stamp := now.Format("20060102-1504")
	result := &ExportResult{Rows: len(mails)}
	switch format {
	case ExportPDF:
		result.Data, err = s.pdf.Render(dataset, "Mail Register", registerWeights...)
		result.ContentType = "application/pdf"
		result.FileName = fmt.Sprintf("mail-register-%s.pdf", stamp)
	default:
		result.Data, err = s.csv.Render(dataset)
		result.ContentType = "text/csv; charset=utf-8"
		result.FileName = fmt.Sprintf("mail-register-%s.csv", stamp)
	}
	if err != nil {
		return nil, internal(err, "failed to render register")
	}
	logger.FromContext(ctx, s.logger).Info("register exported", zap.String("format", string(format)), zap.Int("rows", len(mails)))
	return result, nil
}

// RegisterDataset flattens decorated mail records into export rows.
func RegisterDataset(mails []models.MailRecord, now time.Time) export.Dataset {
	rows := make([]map[string]string, 0, len(mails))
	overdueCount, closedCount := 0, 0
	for i := range mails {
		m := &mails[i]
		m.Decorate(now)
		action := string(m.ActionRequired)
		if m.ActionRequired == models.ActionOther && m.ActionRequiredOther != nil {
			action = *m.ActionRequiredOther
		}
		completed := ""
		if m.DateOfCompletion != nil {
			completed = m.DateOfCompletion.Format(dateLayout)
		}
		overdue := "No"
		if m.IsOverdue {
			overdue = "Yes"
			overdueCount++
		}
		if m.IsClosed() {
			closedCount++
		}
		rows = append(rows, map[string]string{
			"Sl No":           m.SerialNo,
			"Letter No":       m.LetterNo,
			"Subject":         m.Subject,
			"From":            m.FromOffice,
			"Received":        m.DateReceived.Format(dateLayout),
			"Due":             m.DueDate.Format(dateLayout),
			"Action Required": action,
			"Section":         m.SectionName,
			"Handlers":        m.CurrentHandlersDisplay,
			"Status":          string(m.Status),
			"Overdue":         overdue,
			"Time In Stage":   m.TimeInStage,
			"Completed":       completed,
		})
	}
	return export.Dataset{
		Headers: registerHeaders,
		Rows:    rows,
		Summary: map[string]string{
			"Sl No":   "Total",
			"Subject": fmt.Sprintf("%d records", len(rows)),
			"Status":  fmt.Sprintf("%d closed", closedCount),
			"Overdue": fmt.Sprintf("%d overdue", overdueCount),
		},
	}
}
