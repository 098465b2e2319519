package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"ticketing-import/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrInvalidPayload wraps field-level validation failures of report payloads.
var ErrInvalidPayload = errors.New("invalid weekly report payload")

// ReportStore persists weekly reports. GetByID and Update return
// models.ErrReportNotFound for unknown ids.
type ReportStore interface {
	Create(ctx context.Context, report *models.WeeklyReport) error
	GetByID(ctx context.Context, id string) (*models.WeeklyReport, error)
	Update(ctx context.Context, id string, payload models.UpdateWeeklyReportPayload) (*models.WeeklyReport, error)
	List(ctx context.Context, filters models.WeeklyReportFilters) ([]models.WeeklyReport, error)
	Stats(ctx context.Context) (*models.WeeklyReportStats, error)
	CountByUIDPrefix(ctx context.Context, uid string) (int, error)
}

// TicketCreator creates one ticket per imported row.
type TicketCreator interface {
	CreateTicket(ctx context.Context, payload models.CreateTicketPayload) (*models.Ticket, error)
}

// ProgressPublisher receives a progress snapshot after every batch. Clear is
// called once the run reaches a terminal status.
type ProgressPublisher interface {
	Publish(ctx context.Context, progress models.ImportProgress) error
	Clear(ctx context.Context, reportID string) error
}

// DefaultStaleImportAfter is how long a processing report may go without
// finishing before another run may take it over.
const DefaultStaleImportAfter = 45 * time.Minute

type WeeklyReportService struct {
	reports   ReportStore
	tickets   TicketCreator
	publisher ProgressPublisher
	validate  *validator.Validate
	logger    *logrus.Logger
	batchSize  int
	staleAfter time.Duration
	now        func() time.Time
}

// NewWeeklyReportService builds the import orchestrator. publisher may be nil.
func NewWeeklyReportService(reports ReportStore, tickets TicketCreator, publisher ProgressPublisher, batchSize int, logger *logrus.Logger) *WeeklyReportService {
	if batchSize < 1 {
		batchSize = 10
	}

	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &WeeklyReportService{
		reports:   reports,
		tickets:   tickets,
		publisher: publisher,
		validate:  validate,
		logger:    logger,
		batchSize:  batchSize,
		staleAfter: DefaultStaleImportAfter,
		now:        time.Now,
	}
}

// WithStaleAfter sets how long a processing run counts as alive.
func (s *WeeklyReportService) WithStaleAfter(d time.Duration) *WeeklyReportService {
	if d > 0 {
		s.staleAfter = d
	}
	return s
}

// IsRunActive reports whether report is being imported by a live run.
func (s *WeeklyReportService) IsRunActive(report *models.WeeklyReport) bool {
	return report.RunActive(s.now(), s.staleAfter)
}

func (s *WeeklyReportService) CreateWeeklyReport(ctx context.Context, payload models.CreateWeeklyReportPayload) (*models.WeeklyReport, error) {
	if err := s.validatePayload(payload); err != nil {
		return nil, err
	}

	reportUID, err := s.nextReportUID(ctx, payload.Year, payload.WeekNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate report uid: %w", err)
	}

	now := s.now().UTC()
	report := &models.WeeklyReport{
		ID:               uuid.NewString(),
		ReportUID:        reportUID,
		WeekNumber:       payload.WeekNumber,
		Year:             payload.Year,
		ReportDate:       payload.ReportDate,
		OriginalFilename: payload.OriginalFilename,
		FilePath:         payload.FilePath,
		Status:           models.ReportStatusPending,
		Errors:           models.ImportErrors{},
		ImportedBy:       payload.ImportedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	s.logger.WithFields(logrus.Fields{
		"report_uid":  reportUID,
		"week_number": payload.WeekNumber,
		"year":        payload.Year,
		"filename":    payload.OriginalFilename,
	}).Info("Creating weekly report")

	if err := s.reports.Create(ctx, report); err != nil {
		s.logger.WithError(err).WithField("report_uid", reportUID).Error("Failed to create weekly report")
		return nil, fmt.Errorf("failed to create weekly report: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"report_id":  report.ID,
		"report_uid": report.ReportUID,
	}).Info("Weekly report created successfully")

	return report, nil
}

// nextReportUID returns WR{year}-W{week}, suffixed -2, -3, ... when earlier
// reports already hold that uid.
func (s *WeeklyReportService) nextReportUID(ctx context.Context, year, week int) (string, error) {
	base := fmt.Sprintf("WR%d-W%d", year, week)
	count, err := s.reports.CountByUIDPrefix(ctx, base)
	if err != nil {
		return "", err
	}
	if count == 0 {
		return base, nil
	}
	return fmt.Sprintf("%s-%d", base, count+1), nil
}

func (s *WeeklyReportService) validatePayload(payload models.CreateWeeklyReportPayload) error {
	err := s.validate.Struct(payload)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", fe.Field()))
		case "min", "max":
			messages = append(messages, rangeMessage(fe.Field()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(messages, "; "))
}

func rangeMessage(field string) string {
	switch field {
	case "week_number":
		return "week_number must be between 1 and 53"
	case "year":
		return "year must be between 2000 and 2100"
	}
	return field + " is out of range"
}

func validateReportID(id string) error {
	if len(id) != 36 {
		return models.ErrInvalidReportID
	}
	if _, err := uuid.Parse(id); err != nil {
		return models.ErrInvalidReportID
	}
	return nil
}

func (s *WeeklyReportService) GetWeeklyReportByID(ctx context.Context, id string) (*models.WeeklyReport, error) {
	if err := validateReportID(id); err != nil {
		return nil, err
	}
	return s.reports.GetByID(ctx, id)
}

func (s *WeeklyReportService) UpdateWeeklyReport(ctx context.Context, id string, payload models.UpdateWeeklyReportPayload) (*models.WeeklyReport, error) {
	if err := validateReportID(id); err != nil {
		return nil, err
	}
	report, err := s.reports.Update(ctx, id, payload)
	if err != nil {
		if !errors.Is(err, models.ErrReportNotFound) {
			s.logger.WithError(err).WithField("report_id", id).Error("Failed to update weekly report")
		}
		return nil, err
	}
	return report, nil
}

// ImportTicketsFromReport commits rows in batches, isolating per-row failures
// and persisting counters after every batch.
func (s *WeeklyReportService) ImportTicketsFromReport(ctx context.Context, reportID string, rows []models.ImportRow, actorID string) (*models.ImportProcessResult, error) {
	if err := validateReportID(reportID); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, models.ErrNoImportRows
	}

	start := s.now()
	log := s.logger.WithField("report_id", reportID)
	log.WithFields(logrus.Fields{
		"total_rows": len(rows),
		"actor_id":   actorID,
	}).Info("Starting ticket import")

	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if s.IsRunActive(report) {
		return nil, models.ErrReportInProgress
	}
	if report.Status == models.ReportStatusProcessing {
		log.WithField("processing_started_at", report.ProcessingStartedAt).Warn("Taking over stale import run")
	}

	totalRows := len(rows)
	zero := 0
	processing := models.ReportStatusProcessing
	startedAt := start.UTC()
	if _, err := s.reports.Update(ctx, reportID, models.UpdateWeeklyReportPayload{
		Status:              &processing,
		TotalRows:           &totalRows,
		ImportedCount:       &zero,
		SkippedCount:        &zero,
		ErrorCount:          &zero,
		Errors:              &models.ImportErrors{},
		ProcessingStartedAt: &startedAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to mark report as processing: %w", err)
	}

	result := &models.ImportProcessResult{
		ReportID:       reportID,
		TotalRows:      totalRows,
		Errors:         []models.ImportError{},
		TicketsCreated: []string{},
	}
	totalBatches := (totalRows + s.batchSize - 1) / s.batchSize

	for i := 0; i < totalRows; i += s.batchSize {
		if err := ctx.Err(); err != nil {
			s.abortRun(reportID, result, err)
			return nil, err
		}

		end := i + s.batchSize
		if end > totalRows {
			end = totalRows
		}

		batch := s.processBatch(ctx, rows[i:end], s.batchSize, actorID, report.ReportUID)
		result.ImportedCount += batch.ImportedCount
		result.SkippedCount += batch.SkippedCount
		result.ErrorCount += batch.ErrorCount
		result.Errors = append(result.Errors, batch.Errors...)
		result.TicketsCreated = append(result.TicketsCreated, batch.TicketsCreated...)

		if _, err := s.reports.Update(ctx, reportID, countersPayload(result)); err != nil {
			s.abortRun(reportID, result, err)
			return nil, fmt.Errorf("failed to persist import progress: %w", err)
		}

		batchNumber := i/s.batchSize + 1
		log.WithFields(logrus.Fields{
			"batch":    batchNumber,
			"of":       totalBatches,
			"imported": result.ImportedCount,
			"skipped":  result.SkippedCount,
			"errors":   result.ErrorCount,
		}).Debug("Import batch processed")

		s.publishProgress(ctx, reportID, result, start)
	}

	result.DurationSeconds = s.now().Sub(start).Seconds()

	result.Status = models.ReportStatusCompleted
	if result.ErrorCount == totalRows {
		result.Status = models.ReportStatusFailed
	}

	final := countersPayload(result)
	final.Status = &result.Status
	importedAt := s.now().UTC()
	final.ImportedAt = &importedAt
	if _, err := s.reports.Update(ctx, reportID, final); err != nil {
		return nil, fmt.Errorf("failed to persist final import status: %w", err)
	}
	s.clearProgress(ctx, reportID)

	log.WithFields(logrus.Fields{
		"total_rows":       totalRows,
		"imported":         result.ImportedCount,
		"skipped":          result.SkippedCount,
		"errors":           result.ErrorCount,
		"duration_seconds": result.DurationSeconds,
		"status":           result.Status,
	}).Info("Ticket import completed")

	return result, nil
}

func countersPayload(result *models.ImportProcessResult) models.UpdateWeeklyReportPayload {
	imported := result.ImportedCount
	skipped := result.SkippedCount
	errCount := result.ErrorCount
	errs := models.ImportErrors(append([]models.ImportError{}, result.Errors...))
	return models.UpdateWeeklyReportPayload{
		ImportedCount: &imported,
		SkippedCount:  &skipped,
		ErrorCount:    &errCount,
		Errors:        &errs,
	}
}

// abortRun marks a run failed after a structural error so the report does not
// stay in processing. It uses a fresh context because ctx may be the cause.
func (s *WeeklyReportService) abortRun(reportID string, result *models.ImportProcessResult, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	failed := models.ReportStatusFailed
	payload := countersPayload(result)
	payload.Status = &failed

	log := s.logger.WithError(cause).WithField("report_id", reportID)
	if _, err := s.reports.Update(ctx, reportID, payload); err != nil {
		log.WithField("update_error", err.Error()).Error("Failed to mark aborted import as failed")
		return
	}
	s.clearProgress(ctx, reportID)
	log.Error("Ticket import aborted")
}

func (s *WeeklyReportService) clearProgress(ctx context.Context, reportID string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Clear(ctx, reportID); err != nil {
		s.logger.WithError(err).WithField("report_id", reportID).Warn("Failed to clear import progress")
	}
}

func (s *WeeklyReportService) publishProgress(ctx context.Context, reportID string, result *models.ImportProcessResult, start time.Time) {
	if s.publisher == nil {
		return
	}
	report := &models.WeeklyReport{
		ID:            reportID,
		Status:        models.ReportStatusProcessing,
		TotalRows:     result.TotalRows,
		ImportedCount: result.ImportedCount,
		SkippedCount:  result.SkippedCount,
		ErrorCount:    result.ErrorCount,
	}
	progress := s.computeProgress(report, s.now().Sub(start))
	if err := s.publisher.Publish(ctx, *progress); err != nil {
		s.logger.WithError(err).WithField("report_id", reportID).Warn("Failed to publish import progress")
	}
}

// ProcessImportBatch creates one ticket per row. A failing row is recorded
// and never stops the rest of the batch.
func (s *WeeklyReportService) ProcessImportBatch(ctx context.Context, rows []models.ImportRow, batchSize int, actorID string) models.BatchResult {
	return s.processBatch(ctx, rows, batchSize, actorID, "")
}

// processBatch scopes generated external ids with scope so that re-running a
// report hits the (source, external_id) unique key instead of duplicating
// rows that carry no ticket id.
func (s *WeeklyReportService) processBatch(ctx context.Context, rows []models.ImportRow, batchSize int, actorID, scope string) models.BatchResult {
	result := models.BatchResult{
		Errors:         []models.ImportError{},
		TicketsCreated: []string{},
	}

	for _, row := range rows {
		ticket, err := s.tickets.CreateTicket(ctx, rowToTicketPayload(row, actorID, scope))
		if err == nil {
			result.ImportedCount++
			result.TicketsCreated = append(result.TicketsCreated, ticket.ID)
			continue
		}

		errorType := ClassifyImportError(err)
		if errorType == models.ImportErrDuplicateEntry {
			result.SkippedCount++
		} else {
			result.ErrorCount++
		}

		importErr := models.ImportError{
			RowNumber:    row.RowNumber,
			ErrorType:    errorType,
			ErrorMessage: err.Error(),
			RowData:      row,
		}
		var ticketErr *models.TicketError
		if errors.As(err, &ticketErr) && ticketErr.Field != "" {
			field := ticketErr.Field
			importErr.FieldName = &field
		}
		result.Errors = append(result.Errors, importErr)

		s.logger.WithFields(logrus.Fields{
			"row_number":    row.RowNumber,
			"error_type":    errorType,
			"error_message": err.Error(),
			"batch_size":    batchSize,
		}).Warn("Failed to import row")
	}

	return result
}

func rowToTicketPayload(row models.ImportRow, actorID, scope string) models.CreateTicketPayload {
	uid := deref(row.TicketUID)
	externalID := uid
	if externalID == "" {
		externalID = fmt.Sprintf("row-%d", row.RowNumber)
		if scope != "" {
			externalID = scope + "-" + externalID
		}
	}

	description := row.Description
	if deref(description) == "" {
		description = row.FaultDescription
	}

	priority := deref(row.Priority)
	if priority == "" {
		priority = models.DefaultTicketPriority
	}

	return models.CreateTicketPayload{
		Source:      models.TicketSourceWeeklyReport,
		ExternalID:  externalID,
		TicketUID:   uid,
		Title:       deref(row.Title),
		Description: description,
		TicketType:  deref(row.TicketType),
		Priority:    priority,
		Status:      deref(row.Status),
		DRNumber:    row.DRNumber,
		PoleNumber:  row.PoleNumber,
		PONNumber:   row.PONNumber,
		Zone:        row.Zone,
		Address:     row.Address,
		FaultCause:  row.FaultCause,
		CreatedBy:   actorID,
	}
}

// ClassifyImportError maps a ticket creation failure to an import error type.
// Typed ticket errors are classified by kind; anything else falls back to
// matching the message text.
func ClassifyImportError(err error) models.ImportErrorType {
	var ticketErr *models.TicketError
	if errors.As(err, &ticketErr) {
		switch ticketErr.Kind {
		case models.TicketErrMissingField:
			return models.ImportErrMissingRequiredField
		case models.TicketErrDuplicateKey:
			return models.ImportErrDuplicateEntry
		case models.TicketErrValidationFailed:
			return models.ImportErrValidationFailed
		case models.TicketErrStore:
			return models.ImportErrDatabaseError
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "required"):
		return models.ImportErrMissingRequiredField
	case strings.Contains(msg, "duplicate"), strings.Contains(msg, "unique constraint"):
		return models.ImportErrDuplicateEntry
	case strings.Contains(msg, "invalid"), strings.Contains(msg, "validation"):
		return models.ImportErrValidationFailed
	case strings.Contains(msg, "database"):
		return models.ImportErrDatabaseError
	}
	return models.ImportErrUnknownError
}

func (s *WeeklyReportService) GetImportProgress(ctx context.Context, reportID string) (*models.ImportProgress, error) {
	report, err := s.GetWeeklyReportByID(ctx, reportID)
	if err != nil {
		return nil, err
	}

	start := report.CreatedAt
	if report.ProcessingStartedAt != nil {
		start = *report.ProcessingStartedAt
	}
	return s.computeProgress(report, s.now().Sub(start)), nil
}

func (s *WeeklyReportService) computeProgress(report *models.WeeklyReport, elapsed time.Duration) *models.ImportProgress {
	total := report.TotalRows
	processed := report.ImportedCount + report.SkippedCount + report.ErrorCount

	percentage := 0
	if total > 0 {
		percentage = int(math.Round(float64(processed) / float64(total) * 100))
	}

	eta := 0.0
	if report.Status == models.ReportStatusProcessing && processed > 0 {
		perRow := elapsed.Seconds() / float64(processed)
		eta = math.Round(perRow * float64(total-processed))
		if eta < 0 {
			eta = 0
		}
	}

	return &models.ImportProgress{
		ReportID:                      report.ID,
		TotalRows:                     total,
		ProcessedRows:                 processed,
		ImportedCount:                 report.ImportedCount,
		ErrorCount:                    report.ErrorCount,
		ProgressPercentage:            percentage,
		EstimatedTimeRemainingSeconds: eta,
		CurrentBatch:                  processed/s.batchSize + 1,
		TotalBatches:                  (total + s.batchSize - 1) / s.batchSize,
	}
}

// ListWeeklyReports returns matching reports plus per-status counts.
func (s *WeeklyReportService) ListWeeklyReports(ctx context.Context, filters models.WeeklyReportFilters) (*models.WeeklyReportList, error) {
	reports, err := s.reports.List(ctx, filters)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list weekly reports")
		return nil, err
	}

	list := &models.WeeklyReportList{
		Reports: reports,
		Total:   len(reports),
		ByStatus: map[models.WeeklyReportStatus]int{
			models.ReportStatusPending:    0,
			models.ReportStatusProcessing: 0,
			models.ReportStatusCompleted:  0,
			models.ReportStatusFailed:     0,
		},
	}
	for _, report := range reports {
		list.ByStatus[report.Status]++
		list.TotalImportedTickets += report.ImportedCount
	}
	return list, nil
}

func (s *WeeklyReportService) GetWeeklyReportStats(ctx context.Context) (*models.WeeklyReportStats, error) {
	stats, err := s.reports.Stats(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get weekly report stats")
		return nil, err
	}
	return stats, nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
