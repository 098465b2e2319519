package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"ticketing-import/internal/models"
	"ticketing-import/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TicketStore persists tickets.
type TicketStore interface {
	Create(ctx context.Context, ticket *models.Ticket) error
	ExistsByUID(ctx context.Context, uid string) (bool, error)
}

const maxUIDAttempts = 5

type TicketService struct {
	store  TicketStore
	logger *logrus.Logger
	now    func() time.Time
}

func NewTicketService(store TicketStore, logger *logrus.Logger) *TicketService {
	return &TicketService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// CreateTicket validates payload and inserts a ticket. Every failure is a
// *models.TicketError.
func (s *TicketService) CreateTicket(ctx context.Context, payload models.CreateTicketPayload) (*models.Ticket, error) {
	if payload.Source == "" {
		return nil, missingField("source")
	}
	if strings.TrimSpace(payload.Title) == "" {
		return nil, missingField("title")
	}
	if payload.TicketType == "" {
		return nil, missingField("ticket_type")
	}

	if !containsSource(payload.Source) {
		return nil, invalidValue("source")
	}

	ticketType := normalizeEnum(payload.TicketType)
	if !contains(models.ValidTicketTypes, ticketType) {
		return nil, invalidValue("ticket_type")
	}

	priority := models.DefaultTicketPriority
	if payload.Priority != "" {
		priority = normalizeEnum(payload.Priority)
		if !contains(models.ValidTicketPriorities, priority) {
			return nil, invalidValue("priority")
		}
	}

	status := models.DefaultTicketStatus
	if payload.Status != "" {
		status = normalizeEnum(payload.Status)
		if !contains(models.ValidTicketStatuses, status) {
			return nil, invalidValue("status")
		}
	}

	var faultCause *string
	if payload.FaultCause != nil && *payload.FaultCause != "" {
		cause := normalizeEnum(*payload.FaultCause)
		if !contains(models.ValidFaultCauses, cause) {
			return nil, invalidValue("fault_cause")
		}
		faultCause = &cause
	}

	uid := strings.TrimSpace(payload.TicketUID)
	if uid == "" {
		generated, err := s.generateTicketUID(ctx)
		if err != nil {
			return nil, err
		}
		uid = generated
	}

	now := s.now().UTC()
	ticket := &models.Ticket{
		ID:          uuid.NewString(),
		TicketUID:   uid,
		Source:      payload.Source,
		ExternalID:  nonEmpty(payload.ExternalID),
		Title:       strings.TrimSpace(payload.Title),
		Description: nonEmptyPtr(payload.Description),
		TicketType:  ticketType,
		Priority:    priority,
		Status:      status,
		DRNumber:    nonEmptyPtr(payload.DRNumber),
		PoleNumber:  nonEmptyPtr(payload.PoleNumber),
		PONNumber:   nonEmptyPtr(payload.PONNumber),
		Zone:        nonEmptyPtr(payload.Zone),
		Address:     nonEmptyPtr(payload.Address),
		FaultCause:  faultCause,
		CreatedBy:   nonEmpty(payload.CreatedBy),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.Create(ctx, ticket); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			field, key := "ticket_uid", uid
			if strings.TrimSpace(payload.TicketUID) == "" && ticket.ExternalID != nil {
				field, key = "external_id", *ticket.ExternalID
			}
			return nil, &models.TicketError{
				Kind:    models.TicketErrDuplicateKey,
				Field:   field,
				Message: fmt.Sprintf("duplicate ticket %s", key),
				Err:     err,
			}
		}
		return nil, &models.TicketError{
			Kind:    models.TicketErrStore,
			Message: "database error while creating ticket",
			Err:     err,
		}
	}

	s.logger.WithFields(logrus.Fields{
		"ticket_id":  ticket.ID,
		"ticket_uid": ticket.TicketUID,
		"source":     ticket.Source,
	}).Debug("Ticket created")

	return ticket, nil
}

// generateTicketUID returns an unused FT###### identifier.
func (s *TicketService) generateTicketUID(ctx context.Context) (string, error) {
	for i := 0; i < maxUIDAttempts; i++ {
		uid := fmt.Sprintf("FT%06d", rand.Intn(1000000))
		exists, err := s.store.ExistsByUID(ctx, uid)
		if err != nil {
			return "", &models.TicketError{
				Kind:    models.TicketErrStore,
				Message: "database error while generating ticket uid",
				Err:     err,
			}
		}
		if !exists {
			return uid, nil
		}
	}
	return "", &models.TicketError{
		Kind:    models.TicketErrStore,
		Field:   "ticket_uid",
		Message: "database error: could not allocate a free ticket uid",
	}
}

func missingField(field string) *models.TicketError {
	return &models.TicketError{
		Kind:    models.TicketErrMissingField,
		Field:   field,
		Message: field + " is required",
	}
}

func invalidValue(field string) *models.TicketError {
	return &models.TicketError{
		Kind:    models.TicketErrValidationFailed,
		Field:   field,
		Message: fmt.Sprintf("Invalid %s value", field),
	}
}

// normalizeEnum turns spreadsheet labels like "New Installation" into enum
// values like "new_installation".
func normalizeEnum(v string) string {
	return strings.ReplaceAll(whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(v)), " "), " ", "_")
}

func containsSource(source models.TicketSource) bool {
	for _, s := range models.ValidTicketSources {
		if s == source {
			return true
		}
	}
	return false
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func nonEmpty(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func nonEmptyPtr(v *string) *string {
	if v == nil {
		return nil
	}
	return nonEmpty(*v)
}
