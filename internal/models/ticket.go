package models

import (
	"fmt"
	"time"
)

type TicketSource string

const (
	TicketSourceQContact     TicketSource = "qcontact"
	TicketSourceWeeklyReport TicketSource = "weekly_report"
	TicketSourceConstruction TicketSource = "construction"
	TicketSourceAdHoc        TicketSource = "ad_hoc"
	TicketSourceIncident     TicketSource = "incident"
	TicketSourceRevenue      TicketSource = "revenue"
	TicketSourceONTSwap      TicketSource = "ont_swap"
	TicketSourceManual       TicketSource = "manual"
)

var ValidTicketSources = []TicketSource{
	TicketSourceQContact, TicketSourceWeeklyReport, TicketSourceConstruction, TicketSourceAdHoc,
	TicketSourceIncident, TicketSourceRevenue, TicketSourceONTSwap, TicketSourceManual,
}

var ValidTicketTypes = []string{"maintenance", "new_installation", "modification", "ont_swap", "incident"}

var ValidTicketPriorities = []string{"low", "normal", "high", "urgent", "critical"}

var ValidTicketStatuses = []string{
	"open", "assigned", "in_progress", "pending_qa", "qa_in_progress", "qa_rejected",
	"qa_approved", "pending_handover", "handed_to_maintenance", "closed", "cancelled",
}

var ValidFaultCauses = []string{
	"workmanship", "material_failure", "client_damage", "third_party", "environmental", "vandalism", "unknown",
}

const (
	DefaultTicketPriority = "normal"
	DefaultTicketStatus   = "open"
)

// CreateTicketPayload is the normalized input of the record-creation step.
type CreateTicketPayload struct {
	Source      TicketSource `json:"source"`
	ExternalID  string       `json:"external_id"`
	TicketUID   string       `json:"ticket_uid,omitempty"`
	Title       string       `json:"title"`
	Description *string      `json:"description,omitempty"`
	TicketType  string       `json:"ticket_type"`
	Priority    string       `json:"priority"`
	Status      string       `json:"status,omitempty"`
	DRNumber    *string      `json:"dr_number,omitempty"`
	PoleNumber  *string      `json:"pole_number,omitempty"`
	PONNumber   *string      `json:"pon_number,omitempty"`
	Zone        *string      `json:"zone,omitempty"`
	Address     *string      `json:"address,omitempty"`
	FaultCause  *string      `json:"fault_cause,omitempty"`
	CreatedBy   string       `json:"created_by"`
}

type Ticket struct {
	ID          string       `db:"id" json:"id"`
	TicketUID   string       `db:"ticket_uid" json:"ticket_uid"`
	Source      TicketSource `db:"source" json:"source"`
	ExternalID  *string      `db:"external_id" json:"external_id"`
	Title       string       `db:"title" json:"title"`
	Description *string      `db:"description" json:"description"`
	TicketType  string       `db:"ticket_type" json:"ticket_type"`
	Priority    string       `db:"priority" json:"priority"`
	Status      string       `db:"status" json:"status"`
	DRNumber    *string      `db:"dr_number" json:"dr_number"`
	PoleNumber  *string      `db:"pole_number" json:"pole_number"`
	PONNumber   *string      `db:"pon_number" json:"pon_number"`
	Zone        *string      `db:"zone" json:"zone"`
	Address     *string      `db:"address" json:"address"`
	FaultCause  *string      `db:"fault_cause" json:"fault_cause"`
	CreatedBy   *string      `db:"created_by" json:"created_by"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

type TicketErrorKind string

const (
	TicketErrMissingField     TicketErrorKind = "missing_field"
	TicketErrDuplicateKey     TicketErrorKind = "duplicate_key"
	TicketErrValidationFailed TicketErrorKind = "validation_failed"
	TicketErrStore            TicketErrorKind = "store_error"
)

// TicketError is raised by the ticket creator so callers can classify
// failures without inspecting message text.
type TicketError struct {
	Kind    TicketErrorKind
	Field   string
	Message string
	Err     error
}

func (e *TicketError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TicketError) Unwrap() error {
	return e.Err
}
