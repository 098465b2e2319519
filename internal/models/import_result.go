package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Target field names understood by ImportRow. Anything else lands in Extra.
const (
	FieldTicketUID        = "ticket_uid"
	FieldTitle            = "title"
	FieldDescription      = "description"
	FieldTicketType       = "ticket_type"
	FieldPriority         = "priority"
	FieldStatus           = "status"
	FieldDRNumber         = "dr_number"
	FieldPoleNumber       = "pole_number"
	FieldPONNumber        = "pon_number"
	FieldZone             = "zone"
	FieldAddress          = "address"
	FieldAssignedTo       = "assigned_to"
	FieldContractorName   = "contractor_name"
	FieldFaultDescription = "fault_description"
	FieldFaultCause       = "fault_cause"
	FieldCreatedDate      = "created_date"
)

// ImportRow is one spreadsheet row after column mapping. A nil field means the
// source column was absent, which is distinct from an empty cell.
type ImportRow struct {
	RowNumber int `json:"row_number"`

	TicketUID        *string `json:"ticket_uid,omitempty"`
	Title            *string `json:"title,omitempty"`
	Description      *string `json:"description,omitempty"`
	TicketType       *string `json:"ticket_type,omitempty"`
	Priority         *string `json:"priority,omitempty"`
	Status           *string `json:"status,omitempty"`
	DRNumber         *string `json:"dr_number,omitempty"`
	PoleNumber       *string `json:"pole_number,omitempty"`
	PONNumber        *string `json:"pon_number,omitempty"`
	Zone             *string `json:"zone,omitempty"`
	Address          *string `json:"address,omitempty"`
	AssignedTo       *string `json:"assigned_to,omitempty"`
	ContractorName   *string `json:"contractor_name,omitempty"`
	FaultDescription *string `json:"fault_description,omitempty"`
	FaultCause       *string `json:"fault_cause,omitempty"`
	CreatedDate      *string `json:"created_date,omitempty"`

	// Extra holds values of unmapped columns keyed by their slugified label.
	Extra map[string]string `json:"extra,omitempty"`
}

func (r *ImportRow) field(name string) **string {
	switch name {
	case FieldTicketUID:
		return &r.TicketUID
	case FieldTitle:
		return &r.Title
	case FieldDescription:
		return &r.Description
	case FieldTicketType:
		return &r.TicketType
	case FieldPriority:
		return &r.Priority
	case FieldStatus:
		return &r.Status
	case FieldDRNumber:
		return &r.DRNumber
	case FieldPoleNumber:
		return &r.PoleNumber
	case FieldPONNumber:
		return &r.PONNumber
	case FieldZone:
		return &r.Zone
	case FieldAddress:
		return &r.Address
	case FieldAssignedTo:
		return &r.AssignedTo
	case FieldContractorName:
		return &r.ContractorName
	case FieldFaultDescription:
		return &r.FaultDescription
	case FieldFaultCause:
		return &r.FaultCause
	case FieldCreatedDate:
		return &r.CreatedDate
	}
	return nil
}

var mappedFields = []string{
	FieldTicketUID, FieldTitle, FieldDescription, FieldTicketType, FieldPriority,
	FieldStatus, FieldDRNumber, FieldPoleNumber, FieldPONNumber, FieldZone,
	FieldAddress, FieldAssignedTo, FieldContractorName, FieldFaultDescription,
	FieldFaultCause, FieldCreatedDate,
}

// TrimValues strips surrounding whitespace from every present value.
func (r *ImportRow) TrimValues() {
	for _, name := range mappedFields {
		if p := r.field(name); *p != nil {
			v := strings.TrimSpace(**p)
			*p = &v
		}
	}
	for k, v := range r.Extra {
		r.Extra[k] = strings.TrimSpace(v)
	}
}

// Get returns the value of a mapped field and whether it is present.
func (r *ImportRow) Get(name string) (string, bool) {
	if p := r.field(name); p != nil {
		if *p == nil {
			return "", false
		}
		return **p, true
	}
	v, ok := r.Extra[name]
	return v, ok
}

// Set assigns a value to a mapped field, or to Extra for unknown names.
func (r *ImportRow) Set(name, value string) {
	if p := r.field(name); p != nil {
		v := value
		*p = &v
		return
	}
	if r.Extra == nil {
		r.Extra = make(map[string]string)
	}
	r.Extra[name] = value
}

// ColumnMapping binds one source column label to one ImportRow field.
type ColumnMapping struct {
	ExcelColumn string `json:"excel_column"`
	TicketField string `json:"ticket_field"`
	Required    bool   `json:"required"`

	Transform func(string) string `json:"-"`
	Validate  func(string) bool   `json:"-"`
}

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationError is a pre-commit problem found while previewing rows.
type ValidationError struct {
	RowNumber int      `json:"row_number"`
	Severity  Severity `json:"severity"`
	FieldName *string  `json:"field_name"`
	Message   string   `json:"message"`
}

type RowValidation struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

type DuplicateResult struct {
	RowNumber      int    `json:"row_number"`
	DuplicateField string `json:"duplicate_field"`
	DuplicateValue string `json:"duplicate_value"`
}

// ImportPreviewResult summarizes validation of a row set before commit.
type ImportPreviewResult struct {
	TotalRows        int               `json:"total_rows"`
	ValidRows        int               `json:"valid_rows"`
	InvalidRows      int               `json:"invalid_rows"`
	SampleRows       []ImportRow       `json:"sample_rows"`
	ValidationErrors []ValidationError `json:"validation_errors"`
	ColumnMapping    []ColumnMapping   `json:"column_mapping"`
	CanProceed       bool              `json:"can_proceed"`
}

type ImportErrorType string

const (
	ImportErrMissingRequiredField ImportErrorType = "missing_required_field"
	ImportErrDuplicateEntry       ImportErrorType = "duplicate_entry"
	ImportErrValidationFailed     ImportErrorType = "validation_failed"
	ImportErrDatabaseError        ImportErrorType = "database_error"
	ImportErrUnknownError         ImportErrorType = "unknown_error"
)

// ImportError is a row-level failure raised while committing a run.
type ImportError struct {
	RowNumber    int             `json:"row_number"`
	ErrorType    ImportErrorType `json:"error_type"`
	ErrorMessage string          `json:"error_message"`
	FieldName    *string         `json:"field_name"`
	RowData      ImportRow       `json:"row_data"`
}

// ImportErrors is stored as a JSON column on weekly_reports.
type ImportErrors []ImportError

func (e ImportErrors) Value() (driver.Value, error) {
	if e == nil {
		return "[]", nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (e *ImportErrors) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*e = ImportErrors{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for import errors", src)
	}
	if len(data) == 0 {
		*e = ImportErrors{}
		return nil
	}
	return json.Unmarshal(data, e)
}

// ImportProcessResult is the terminal outcome of one import run.
type ImportProcessResult struct {
	ReportID        string             `json:"report_id"`
	Status          WeeklyReportStatus `json:"status"`
	TotalRows       int                `json:"total_rows"`
	ImportedCount   int                `json:"imported_count"`
	SkippedCount    int                `json:"skipped_count"`
	ErrorCount      int                `json:"error_count"`
	Errors          []ImportError      `json:"errors"`
	DurationSeconds float64            `json:"duration_seconds"`
	TicketsCreated  []string           `json:"tickets_created"`
}

// BatchResult is the outcome of one ProcessImportBatch call.
type BatchResult struct {
	ImportedCount  int           `json:"imported_count"`
	SkippedCount   int           `json:"skipped_count"`
	ErrorCount     int           `json:"error_count"`
	Errors         []ImportError `json:"errors"`
	TicketsCreated []string      `json:"tickets_created"`
}

type ImportProgress struct {
	ReportID                      string  `json:"report_id"`
	TotalRows                     int     `json:"total_rows"`
	ProcessedRows                 int     `json:"processed_rows"`
	ImportedCount                 int     `json:"imported_count"`
	ErrorCount                    int     `json:"error_count"`
	ProgressPercentage            int     `json:"progress_percentage"`
	EstimatedTimeRemainingSeconds float64 `json:"estimated_time_remaining_seconds"`
	CurrentBatch                  int     `json:"current_batch"`
	TotalBatches                  int     `json:"total_batches"`
}

var (
	ErrInvalidReportID  = errors.New("invalid report ID format")
	ErrReportNotFound   = errors.New("weekly report not found")
	ErrNoImportRows     = errors.New("import rows must be a non-empty list")
	ErrReportInProgress = errors.New("weekly report is already being processed")
)
