package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ticketing-import/internal/config"
	"ticketing-import/internal/middleware"
	"ticketing-import/internal/models"
	"ticketing-import/internal/service"
	"ticketing-import/internal/utils"
	"ticketing-import/internal/worker"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// ReportService is the report surface the handler needs.
type ReportService interface {
	CreateWeeklyReport(ctx context.Context, payload models.CreateWeeklyReportPayload) (*models.WeeklyReport, error)
	GetWeeklyReportByID(ctx context.Context, id string) (*models.WeeklyReport, error)
	GetImportProgress(ctx context.Context, reportID string) (*models.ImportProgress, error)
	ListWeeklyReports(ctx context.Context, filters models.WeeklyReportFilters) (*models.WeeklyReportList, error)
	GetWeeklyReportStats(ctx context.Context) (*models.WeeklyReportStats, error)
	IsRunActive(report *models.WeeklyReport) bool
}

// ImportRunner runs an import synchronously from the stored upload.
type ImportRunner interface {
	Run(ctx context.Context, reportID, actorID string) (*models.ImportProcessResult, error)
}

// TaskEnqueuer is satisfied by *asynq.Client.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ProgressCache serves the latest published progress snapshot.
type ProgressCache interface {
	Latest(ctx context.Context, reportID string) (*models.ImportProgress, error)
}

var allowedUploadExts = map[string]bool{".xlsx": true, ".xls": true, ".csv": true}

type WeeklyImportHandler struct {
	reports      ReportService
	runner       ImportRunner
	excelService *service.ExcelService
	queue        TaskEnqueuer
	progress     ProgressCache
	cfg          *config.Config
	logger       *logrus.Logger
}

// NewWeeklyImportHandler wires the import endpoints. queue and progress may be
// nil: imports then run inline and progress is read from the database.
func NewWeeklyImportHandler(
	reports ReportService,
	runner ImportRunner,
	excelService *service.ExcelService,
	queue TaskEnqueuer,
	progress ProgressCache,
	cfg *config.Config,
	logger *logrus.Logger,
) *WeeklyImportHandler {
	return &WeeklyImportHandler{
		reports:      reports,
		runner:       runner,
		excelService: excelService,
		queue:        queue,
		progress:     progress,
		cfg:          cfg,
		logger:       logger,
	}
}

func (h *WeeklyImportHandler) UploadWeeklyReport(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File is required", err)
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedUploadExts[ext] {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Only spreadsheet files (.xlsx, .xls, .csv) are allowed", nil)
	}

	if file.Size > int64(h.cfg.UploadMaxSize) {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File size exceeds maximum limit", nil)
	}

	reportDate, weekNumber, year, err := parseReportPeriod(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	src, err := file.Open()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Failed to read uploaded file", err)
	}
	data, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Failed to read uploaded file", err)
	}

	parsed := h.excelService.ParseExcelFile(data, service.DefaultParseOptions())
	if !parsed.Success {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Failed to parse Excel file",
			"errors":  parsed.Errors,
		})
	}

	previewOpts := service.DefaultPreviewOptions()
	if h.cfg.ImportSampleSize > 0 {
		previewOpts.SampleSize = h.cfg.ImportSampleSize
	}
	if h.cfg.ImportDuplicateField != "" {
		previewOpts.DuplicateField = h.cfg.ImportDuplicateField
	}
	preview := h.excelService.GeneratePreview(parsed.Rows, parsed.ColumnMapping, previewOpts)
	if !preview.CanProceed {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"success": false,
			"message": "No valid rows found in file",
			"data":    fiber.Map{"preview": preview},
		})
	}

	if err := os.MkdirAll(h.cfg.UploadPath, 0o755); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to prepare upload directory", err)
	}
	filePath := filepath.Join(h.cfg.UploadPath, uuid.NewString()+ext)
	if err := c.SaveFile(file, filePath); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to save file", err)
	}

	report, err := h.reports.CreateWeeklyReport(c.UserContext(), models.CreateWeeklyReportPayload{
		WeekNumber:       weekNumber,
		Year:             year,
		ReportDate:       reportDate,
		OriginalFilename: file.Filename,
		FilePath:         filePath,
		ImportedBy:       middleware.ActorID(c),
	})
	if err != nil {
		if removeErr := os.Remove(filePath); removeErr != nil {
			h.logger.WithError(removeErr).WithField("file_path", filePath).Warn("Failed to remove orphaned upload")
		}
		return reportError(c, err, "Failed to create weekly report")
	}

	h.logger.WithFields(logrus.Fields{
		"report_id":  report.ID,
		"report_uid": report.ReportUID,
		"rows":       len(parsed.Rows),
		"valid_rows": preview.ValidRows,
	}).Info("Weekly report uploaded")

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "File uploaded successfully",
		"data": fiber.Map{
			"report":       report,
			"preview":      preview,
			"headers":      parsed.Headers,
			"skipped_rows": parsed.SkippedRows,
		},
	})
}

// parseReportPeriod reads report_date (default today), week_number and year.
// Missing week or year default to the ISO week of report_date.
func parseReportPeriod(c *fiber.Ctx) (time.Time, int, int, error) {
	reportDate := time.Now().UTC().Truncate(24 * time.Hour)
	if v := strings.TrimSpace(c.FormValue("report_date")); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, 0, 0, errors.New("report_date must be formatted as YYYY-MM-DD")
		}
		reportDate = parsed
	}

	isoYear, isoWeek := reportDate.ISOWeek()

	week, err := formInt(c, "week_number", isoWeek)
	if err != nil {
		return time.Time{}, 0, 0, err
	}
	year, err := formInt(c, "year", isoYear)
	if err != nil {
		return time.Time{}, 0, 0, err
	}
	return reportDate, week, year, nil
}

func formInt(c *fiber.Ctx, key string, fallback int) (int, error) {
	v := strings.TrimSpace(c.FormValue(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("Invalid %s value", key)
	}
	return n, nil
}

func (h *WeeklyImportHandler) StartImport(c *fiber.Ctx) error {
	id := c.Params("id")
	actorID := middleware.ActorID(c)

	report, err := h.reports.GetWeeklyReportByID(c.UserContext(), id)
	if err != nil {
		return reportError(c, err, "Failed to retrieve weekly report")
	}

	// A processing report whose run went stale may be started again.
	switch {
	case h.reports.IsRunActive(report):
		return utils.ErrorResponse(c, fiber.StatusConflict, "Weekly report is already being processed", nil)
	case report.Status == models.ReportStatusCompleted:
		return utils.ErrorResponse(c, fiber.StatusConflict, "Weekly report has already been imported", nil)
	}

	if h.queue == nil {
		result, err := h.runner.Run(c.UserContext(), report.ID, actorID)
		if err != nil {
			return reportError(c, err, "Failed to import weekly report")
		}
		return utils.SuccessResponse(c, "Import finished", result)
	}

	task, err := worker.NewImportTask(report.ID, actorID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to build import task", err)
	}
	info, err := h.queue.Enqueue(task)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to queue import task", err)
	}

	h.logger.WithFields(logrus.Fields{
		"report_id": report.ID,
		"job_id":    info.ID,
	}).Info("Weekly report import queued")

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"message": "Import started",
		"data": fiber.Map{
			"job_id": info.ID,
			"report": report,
		},
	})
}

func (h *WeeklyImportHandler) GetReport(c *fiber.Ctx) error {
	report, err := h.reports.GetWeeklyReportByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return reportError(c, err, "Failed to retrieve weekly report")
	}

	progress, err := h.currentProgress(c.UserContext(), report)
	if err != nil {
		return reportError(c, err, "Failed to retrieve import progress")
	}

	return utils.SuccessResponse(c, "Weekly report retrieved", fiber.Map{
		"report":   report,
		"progress": progress,
	})
}

func (h *WeeklyImportHandler) GetProgress(c *fiber.Ctx) error {
	report, err := h.reports.GetWeeklyReportByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return reportError(c, err, "Failed to retrieve weekly report")
	}

	progress, err := h.currentProgress(c.UserContext(), report)
	if err != nil {
		return reportError(c, err, "Failed to retrieve import progress")
	}
	return utils.SuccessResponse(c, "Import progress retrieved", progress)
}

// currentProgress prefers the cached snapshot while the report is processing
// and otherwise serves the stored report counters.
func (h *WeeklyImportHandler) currentProgress(ctx context.Context, report *models.WeeklyReport) (*models.ImportProgress, error) {
	if h.progress != nil && report.Status == models.ReportStatusProcessing {
		cached, err := h.progress.Latest(ctx, report.ID)
		if err != nil {
			h.logger.WithError(err).WithField("report_id", report.ID).Warn("Progress cache unavailable")
		}
		if cached != nil && cached.ProcessedRows < cached.TotalRows {
			return cached, nil
		}
	}
	return h.reports.GetImportProgress(ctx, report.ID)
}

func (h *WeeklyImportHandler) ExportErrors(c *fiber.Ctx) error {
	report, err := h.reports.GetWeeklyReportByID(c.UserContext(), c.Params("id"))
	if err != nil {
		return reportError(c, err, "Failed to retrieve weekly report")
	}

	fileName := fmt.Sprintf("import_errors_%s_%s.xlsx", report.ReportUID, time.Now().Format("20060102_150405"))
	return h.download(c, fileName, func(w io.Writer) error {
		return h.excelService.GenerateImportErrorReport(report, w)
	})
}

func (h *WeeklyImportHandler) DownloadTemplate(c *fiber.Ctx) error {
	return h.download(c, "weekly_report_template.xlsx", h.excelService.GenerateWeeklyTemplate)
}

func (h *WeeklyImportHandler) ListReports(c *fiber.Ctx) error {
	filters, err := parseHistoryFilters(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	list, err := h.reports.ListWeeklyReports(c.UserContext(), filters)
	if err != nil {
		return reportError(c, err, "Failed to retrieve weekly reports")
	}

	params := utils.GetPaginationParams(c)
	start, end := utils.PageBounds(len(list.Reports), params.Page, params.Limit)

	return utils.SuccessResponse(c, "Weekly reports retrieved", fiber.Map{
		"reports":                list.Reports[start:end],
		"total":                  list.Total,
		"by_status":              list.ByStatus,
		"total_imported_tickets": list.TotalImportedTickets,
		"pagination":             utils.CalculatePagination(params.Page, params.Limit, int64(list.Total)),
	})
}

func (h *WeeklyImportHandler) ExportHistory(c *fiber.Ctx) error {
	filters, err := parseHistoryFilters(c)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), nil)
	}

	list, err := h.reports.ListWeeklyReports(c.UserContext(), filters)
	if err != nil {
		return reportError(c, err, "Failed to retrieve weekly reports")
	}

	fileName := fmt.Sprintf("weekly_reports_%s.xlsx", time.Now().Format("20060102_150405"))
	return h.download(c, fileName, func(w io.Writer) error {
		return h.excelService.ExportReportHistory(list.Reports, w)
	})
}

func (h *WeeklyImportHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.reports.GetWeeklyReportStats(c.UserContext())
	if err != nil {
		return reportError(c, err, "Failed to retrieve import statistics")
	}
	return utils.SuccessResponse(c, "Import statistics retrieved", stats)
}

// download writes a generated workbook under the export path and sends it.
func (h *WeeklyImportHandler) download(c *fiber.Ctx, fileName string, write func(io.Writer) error) error {
	if err := os.MkdirAll(h.cfg.ExportPath, 0o755); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to prepare export directory", err)
	}

	exportPath := filepath.Join(h.cfg.ExportPath, fileName)
	out, err := os.Create(exportPath)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create export file", err)
	}

	if err := write(out); err != nil {
		out.Close()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to export data", err)
	}
	if err := out.Close(); err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to export data", err)
	}

	return c.Download(exportPath, fileName)
}

func parseHistoryFilters(c *fiber.Ctx) (models.WeeklyReportFilters, error) {
	var filters models.WeeklyReportFilters

	if v := c.Query("status"); v != "" {
		for _, s := range strings.Split(v, ",") {
			status := models.WeeklyReportStatus(strings.TrimSpace(s))
			switch status {
			case models.ReportStatusPending, models.ReportStatusProcessing, models.ReportStatusCompleted, models.ReportStatusFailed:
				filters.Status = append(filters.Status, status)
			default:
				return filters, fmt.Errorf("Invalid status value: %s", s)
			}
		}
	}

	filters.WeekNumber = c.QueryInt("week_number", 0)
	filters.Year = c.QueryInt("year", 0)
	filters.ImportedBy = c.Query("imported_by")

	var err error
	if filters.ImportedAfter, err = queryTime(c, "imported_after"); err != nil {
		return filters, err
	}
	if filters.ImportedBefore, err = queryTime(c, "imported_before"); err != nil {
		return filters, err
	}
	return filters, nil
}

// queryTime accepts RFC 3339 timestamps or plain dates.
func queryTime(c *fiber.Ctx, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("Invalid %s value", key)
}

func reportError(c *fiber.Ctx, err error, fallback string) error {
	switch {
	case errors.Is(err, models.ErrInvalidReportID):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid report ID", err)
	case errors.Is(err, models.ErrReportNotFound):
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Weekly report not found", err)
	case errors.Is(err, service.ErrInvalidPayload):
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid weekly report data", err)
	case errors.Is(err, models.ErrReportInProgress):
		return utils.ErrorResponse(c, fiber.StatusConflict, "Weekly report is already being processed", err)
	case errors.Is(err, models.ErrNoImportRows):
		return utils.ErrorResponse(c, fiber.StatusUnprocessableEntity, "Weekly report has no rows to import", err)
	default:
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, fallback, err)
	}
}
