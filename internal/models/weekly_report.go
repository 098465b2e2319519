package models

import "time"

type WeeklyReportStatus string

const (
	ReportStatusPending    WeeklyReportStatus = "pending"
	ReportStatusProcessing WeeklyReportStatus = "processing"
	ReportStatusCompleted  WeeklyReportStatus = "completed"
	ReportStatusFailed     WeeklyReportStatus = "failed"
)

func (s WeeklyReportStatus) IsTerminal() bool {
	return s == ReportStatusCompleted || s == ReportStatusFailed
}

// WeeklyReport is the durable record of one import run.
type WeeklyReport struct {
	ID                  string             `db:"id" json:"id"`
	ReportUID           string             `db:"report_uid" json:"report_uid"`
	WeekNumber          int                `db:"week_number" json:"week_number"`
	Year                int                `db:"year" json:"year"`
	ReportDate          time.Time          `db:"report_date" json:"report_date"`
	OriginalFilename    string             `db:"original_filename" json:"original_filename"`
	FilePath            string             `db:"file_path" json:"file_path"`
	Status              WeeklyReportStatus `db:"status" json:"status"`
	TotalRows           int                `db:"total_rows" json:"total_rows"`
	ImportedCount       int                `db:"imported_count" json:"imported_count"`
	SkippedCount        int                `db:"skipped_count" json:"skipped_count"`
	ErrorCount          int                `db:"error_count" json:"error_count"`
	Errors              ImportErrors       `db:"errors" json:"errors"`
	ProcessingStartedAt *time.Time         `db:"processing_started_at" json:"processing_started_at"`
	ImportedAt          *time.Time         `db:"imported_at" json:"imported_at"`
	ImportedBy          string             `db:"imported_by" json:"imported_by"`
	CreatedAt           time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time          `db:"updated_at" json:"updated_at"`
}

// RunActive reports whether the report is processing and its run started less
// than staleAfter ago. A processing report without a start time is stale.
func (r *WeeklyReport) RunActive(now time.Time, staleAfter time.Duration) bool {
	if r.Status != ReportStatusProcessing || r.ProcessingStartedAt == nil {
		return false
	}
	return now.Sub(*r.ProcessingStartedAt) < staleAfter
}

type CreateWeeklyReportPayload struct {
	WeekNumber       int       `json:"week_number" validate:"required,min=1,max=53"`
	Year             int       `json:"year" validate:"required,min=2000,max=2100"`
	ReportDate       time.Time `json:"report_date" validate:"required"`
	OriginalFilename string    `json:"original_filename" validate:"required"`
	FilePath         string    `json:"file_path" validate:"required"`
	ImportedBy       string    `json:"imported_by" validate:"required"`
}

// UpdateWeeklyReportPayload is a partial update; nil fields are left unchanged.
type UpdateWeeklyReportPayload struct {
	Status              *WeeklyReportStatus `json:"status,omitempty"`
	TotalRows           *int                `json:"total_rows,omitempty"`
	ImportedCount       *int                `json:"imported_count,omitempty"`
	SkippedCount        *int                `json:"skipped_count,omitempty"`
	ErrorCount          *int                `json:"error_count,omitempty"`
	Errors              *ImportErrors       `json:"errors,omitempty"`
	ProcessingStartedAt *time.Time          `json:"processing_started_at,omitempty"`
	ImportedAt          *time.Time          `json:"imported_at,omitempty"`
}

// IsEmpty reports whether the payload carries no changes.
func (p UpdateWeeklyReportPayload) IsEmpty() bool {
	return p.Status == nil && p.TotalRows == nil && p.ImportedCount == nil &&
		p.SkippedCount == nil && p.ErrorCount == nil && p.Errors == nil &&
		p.ProcessingStartedAt == nil && p.ImportedAt == nil
}

// Apply copies the non-nil fields of p onto report.
func (p UpdateWeeklyReportPayload) Apply(report *WeeklyReport) {
	if p.Status != nil {
		report.Status = *p.Status
	}
	if p.TotalRows != nil {
		report.TotalRows = *p.TotalRows
	}
	if p.ImportedCount != nil {
		report.ImportedCount = *p.ImportedCount
	}
	if p.SkippedCount != nil {
		report.SkippedCount = *p.SkippedCount
	}
	if p.ErrorCount != nil {
		report.ErrorCount = *p.ErrorCount
	}
	if p.Errors != nil {
		report.Errors = append(ImportErrors{}, (*p.Errors)...)
	}
	if p.ProcessingStartedAt != nil {
		t := *p.ProcessingStartedAt
		report.ProcessingStartedAt = &t
	}
	if p.ImportedAt != nil {
		t := *p.ImportedAt
		report.ImportedAt = &t
	}
}

type WeeklyReportFilters struct {
	Status         []WeeklyReportStatus `json:"status,omitempty"`
	WeekNumber     int                  `json:"week_number,omitempty"`
	Year           int                  `json:"year,omitempty"`
	ImportedBy     string               `json:"imported_by,omitempty"`
	ImportedAfter  *time.Time           `json:"imported_after,omitempty"`
	ImportedBefore *time.Time           `json:"imported_before,omitempty"`
}

type WeeklyReportList struct {
	Reports              []WeeklyReport             `json:"reports"`
	Total                int                        `json:"total"`
	ByStatus             map[WeeklyReportStatus]int `json:"by_status"`
	TotalImportedTickets int                        `json:"total_imported_tickets"`
}

type WeeklyReportStats struct {
	TotalImports             int        `db:"total_imports" json:"total_imports"`
	SuccessfulImports        int        `db:"successful_imports" json:"successful_imports"`
	FailedImports            int        `db:"failed_imports" json:"failed_imports"`
	TotalTicketsImported     int        `db:"total_tickets_imported" json:"total_tickets_imported"`
	AvgTicketsPerImport      float64    `db:"avg_tickets_per_import" json:"avg_tickets_per_import"`
	AvgImportDurationSeconds float64    `db:"avg_import_duration_seconds" json:"avg_import_duration_seconds"`
	LastImportDate           *time.Time `db:"last_import_date" json:"last_import_date"`
}
