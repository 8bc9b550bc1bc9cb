package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

type ticketStore interface {
	Create(ctx context.Context, ticket *models.SupportTicket) error
	GetByID(ctx context.Context, id string) (*models.SupportTicket, error)
	List(ctx context.Context, filter models.TicketFilter) ([]models.SupportTicket, error)
	Transition(ctx context.Context, id string, from, to models.TicketStatus, assignedTo, replyNote *string) error
}

// ticketTransitions enumerates the allowed lifecycle edges.
var ticketTransitions = map[models.TicketStatus][]models.TicketStatus{
	models.TicketStatusOpen:       {models.TicketStatusInProgress, models.TicketStatusResolved},
	models.TicketStatusInProgress: {models.TicketStatusResolved},
	models.TicketStatusResolved:   {models.TicketStatusClosed, models.TicketStatusInProgress},
}

func transitionAllowed(from, to models.TicketStatus) bool {
	for _, next := range ticketTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TicketService manages the support ticket lifecycle.
type TicketService struct {
	tickets   ticketStore
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTicketService constructs the service.
func NewTicketService(tickets ticketStore, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *TicketService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{tickets: tickets, audit: audit, validator: validate, logger: logger}
}

// Create opens a new ticket on behalf of a student.
func (s *TicketService) Create(ctx context.Context, req dto.CreateTicketRequest, studentID string) (*models.SupportTicket, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	category := models.TicketCategory(strings.ToUpper(string(req.Category)))
	switch category {
	case models.TicketCategoryAdmissions, models.TicketCategoryFees, models.TicketCategoryAcademics,
		models.TicketCategoryTechnical, models.TicketCategoryOther:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported ticket category")
	}
	ticket := &models.SupportTicket{
		StudentID: studentID,
		Category:  category,
		Subject:   strings.TrimSpace(req.Subject),
		Body:      req.Body,
		Status:    models.TicketStatusOpen,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create ticket")
	}
	return ticket, nil
}

// List returns tickets visible to the actor. Students see only their own.
func (s *TicketService) List(ctx context.Context, query dto.TicketQuery, actor *models.JWTClaims) ([]models.SupportTicket, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.TicketFilter{
		Status:   query.Status,
		Category: query.Category,
		Limit:    query.Limit,
		Offset:   query.Offset,
	}
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAdmin:
		// full access, no extra filters
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	default:
		return nil, appErrors.ErrForbidden
	}
	tickets, err := s.tickets.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tickets")
	}
	return tickets, nil
}

// Get returns one ticket enforcing scope constraints.
func (s *TicketService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.SupportTicket, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ticket")
	}
	if actor.Role == models.RoleStudent && ticket.StudentID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return ticket, nil
}

// Transition moves a ticket to the requested status. The write is conditional
// on the stored status still matching what the caller saw; a concurrent staff
// action surfaces as a conflict.
func (s *TicketService) Transition(ctx context.Context, id string, req dto.TransitionTicketRequest, staffID string) (*models.SupportTicket, error) {
	ticket, err := s.tickets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ticket")
	}
	target := models.TicketStatus(strings.ToUpper(string(req.Status)))
	if !transitionAllowed(ticket.Status, target) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("cannot move ticket from %s to %s", ticket.Status, target))
	}

	assignee := &staffID
	replyNote := optionalString(req.ReplyNote)
	if err := s.tickets.Transition(ctx, id, ticket.Status, target, assignee, replyNote); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "ticket was updated by someone else")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to transition ticket")
	}

	ticket.Status = target
	ticket.AssignedTo = assignee
	if replyNote != nil {
		ticket.ReplyNote = replyNote
	}
	if s.audit != nil {
		detail, _ := json.Marshal(map[string]string{"status": string(target)})
		log := &models.AuditLog{
			UserID:     &staffID,
			Action:     models.AuditActionTicketTransition,
			Resource:   "support_ticket",
			ResourceID: &ticket.ID,
			NewValues:  detail,
			IPAddress:  "system",
			UserAgent:  "ticket-service",
		}
		if err := s.audit.CreateAuditLog(ctx, log); err != nil {
			s.logger.Warn("failed to persist audit log", zap.Error(err))
		}
	}
	return ticket, nil
}
