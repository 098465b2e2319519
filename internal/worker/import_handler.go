package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ticketing-import/internal/models"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

type reportLookup interface {
	GetWeeklyReportByID(ctx context.Context, id string) (*models.WeeklyReport, error)
	IsRunActive(report *models.WeeklyReport) bool
}

type importRunner interface {
	Run(ctx context.Context, reportID, actorID string) (*models.ImportProcessResult, error)
}

type ImportTaskHandler struct {
	reports reportLookup
	runner  importRunner
	logger  *logrus.Logger
}

func NewImportTaskHandler(reports reportLookup, runner importRunner, logger *logrus.Logger) *ImportTaskHandler {
	return &ImportTaskHandler{reports: reports, runner: runner, logger: logger}
}

func (h *ImportTaskHandler) Handle(ctx context.Context, task *asynq.Task) error {
	var payload ImportTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.WithField("report_id", payload.ReportID)

	report, err := h.reports.GetWeeklyReportByID(ctx, payload.ReportID)
	if errors.Is(err, models.ErrReportNotFound) || errors.Is(err, models.ErrInvalidReportID) {
		log.Warn("Weekly report no longer exists, skipping import")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get weekly report: %w", err)
	}

	// Failed runs and processing runs that went stale (the worker died
	// mid-import) are picked up again. Completed or live ones are left alone.
	if report.Status == models.ReportStatusCompleted || h.reports.IsRunActive(report) {
		log.WithField("status", report.Status).Info("Weekly report already handled, skipping import")
		return nil
	}
	if report.Status == models.ReportStatusProcessing {
		log.WithField("processing_started_at", report.ProcessingStartedAt).Warn("Re-running stale weekly report import")
	}

	result, err := h.runner.Run(ctx, payload.ReportID, payload.ActorID)
	switch {
	case errors.Is(err, models.ErrReportInProgress):
		log.Info("Weekly report picked up by another run, skipping import")
		return nil
	case errors.Is(err, models.ErrNoImportRows):
		return fmt.Errorf("weekly report %s has no rows: %w", report.ReportUID, asynq.SkipRetry)
	case err != nil:
		return fmt.Errorf("import of weekly report %s failed: %w", report.ReportUID, err)
	}

	log.WithFields(logrus.Fields{
		"status":   result.Status,
		"imported": result.ImportedCount,
		"skipped":  result.SkippedCount,
		"errors":   result.ErrorCount,
	}).Info("Weekly report import task done")
	return nil
}
