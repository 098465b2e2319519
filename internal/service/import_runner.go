package service

import (
	"context"
	"fmt"
	"os"
	"strings"

	"ticketing-import/internal/models"

	"github.com/sirupsen/logrus"
)

// ReportImporter is the part of WeeklyReportService the runner drives.
type ReportImporter interface {
	GetWeeklyReportByID(ctx context.Context, id string) (*models.WeeklyReport, error)
	ImportTicketsFromReport(ctx context.Context, reportID string, rows []models.ImportRow, actorID string) (*models.ImportProcessResult, error)
	IsRunActive(report *models.WeeklyReport) bool
}

// ImportRunner re-reads the workbook stored for a report and imports its rows.
// It is shared by the inline HTTP path and the background worker.
type ImportRunner struct {
	excel    *ExcelService
	reports  ReportImporter
	readFile func(string) ([]byte, error)
	logger   *logrus.Logger
}

func NewImportRunner(excel *ExcelService, reports ReportImporter, logger *logrus.Logger) *ImportRunner {
	return &ImportRunner{
		excel:    excel,
		reports:  reports,
		readFile: os.ReadFile,
		logger:   logger,
	}
}

// LoadRows parses the stored upload of report.
func (r *ImportRunner) LoadRows(report *models.WeeklyReport) ([]models.ImportRow, error) {
	data, err := r.readFile(report.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}

	parsed := r.excel.ParseExcelFile(data, DefaultParseOptions())
	if !parsed.Success {
		return nil, fmt.Errorf("failed to parse uploaded file: %s", strings.Join(parsed.Errors, "; "))
	}
	return parsed.Rows, nil
}

// Run imports every row of the report's stored workbook.
func (r *ImportRunner) Run(ctx context.Context, reportID, actorID string) (*models.ImportProcessResult, error) {
	report, err := r.reports.GetWeeklyReportByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.reports.IsRunActive(report) {
		return nil, models.ErrReportInProgress
	}

	rows, err := r.LoadRows(report)
	if err != nil {
		return nil, err
	}

	if actorID == "" {
		actorID = report.ImportedBy
	}

	r.logger.WithFields(logrus.Fields{
		"report_id":  report.ID,
		"report_uid": report.ReportUID,
		"rows":       len(rows),
	}).Info("Starting weekly report import")

	result, err := r.reports.ImportTicketsFromReport(ctx, report.ID, rows, actorID)
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"report_id": report.ID,
		"status":    result.Status,
		"imported":  result.ImportedCount,
		"skipped":   result.SkippedCount,
		"errors":    result.ErrorCount,
		"duration":  result.DurationSeconds,
	}).Info("Weekly report import finished")

	return result, nil
}
