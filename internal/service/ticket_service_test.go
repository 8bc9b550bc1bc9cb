package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

type ticketStoreStub struct {
	tickets       map[string]*models.SupportTicket
	transitionErr error
	filter        models.TicketFilter
}

func newTicketStoreStub() *ticketStoreStub {
	return &ticketStoreStub{tickets: make(map[string]*models.SupportTicket)}
}

func (s *ticketStoreStub) Create(ctx context.Context, ticket *models.SupportTicket) error {
	if ticket.ID == "" {
		ticket.ID = "ticket-1"
	}
	s.tickets[ticket.ID] = ticket
	return nil
}

func (s *ticketStoreStub) GetByID(ctx context.Context, id string) (*models.SupportTicket, error) {
	if ticket, ok := s.tickets[id]; ok {
		copy := *ticket
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *ticketStoreStub) List(ctx context.Context, filter models.TicketFilter) ([]models.SupportTicket, error) {
	s.filter = filter
	result := make([]models.SupportTicket, 0, len(s.tickets))
	for _, ticket := range s.tickets {
		result = append(result, *ticket)
	}
	return result, nil
}

func (s *ticketStoreStub) Transition(ctx context.Context, id string, from, to models.TicketStatus, assignedTo, replyNote *string) error {
	if s.transitionErr != nil {
		return s.transitionErr
	}
	ticket, ok := s.tickets[id]
	if !ok || ticket.Status != from {
		return sql.ErrNoRows
	}
	ticket.Status = to
	ticket.AssignedTo = assignedTo
	if replyNote != nil {
		ticket.ReplyNote = replyNote
	}
	return nil
}

func TestTicketCreate(t *testing.T) {
	store := newTicketStoreStub()
	svc := NewTicketService(store, nil, nil, nil)

	ticket, err := svc.Create(context.Background(), dto.CreateTicketRequest{
		Category: "fees",
		Subject:  "  Quote missing  ",
		Body:     "My quote never arrived.",
	}, "user-1")
	require.NoError(t, err)
	require.Equal(t, models.TicketStatusOpen, ticket.Status)
	require.Equal(t, models.TicketCategoryFees, ticket.Category)
	require.Equal(t, "Quote missing", ticket.Subject)
}

func TestTicketCreateUnknownCategory(t *testing.T) {
	svc := NewTicketService(newTicketStoreStub(), nil, nil, nil)

	_, err := svc.Create(context.Background(), dto.CreateTicketRequest{
		Category: "GOSSIP",
		Subject:  "hello",
		Body:     "hello",
	}, "user-1")
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestTicketTransitionEdges(t *testing.T) {
	cases := []struct {
		from    models.TicketStatus
		to      models.TicketStatus
		allowed bool
	}{
		{models.TicketStatusOpen, models.TicketStatusInProgress, true},
		{models.TicketStatusOpen, models.TicketStatusResolved, true},
		{models.TicketStatusOpen, models.TicketStatusClosed, false},
		{models.TicketStatusInProgress, models.TicketStatusResolved, true},
		{models.TicketStatusInProgress, models.TicketStatusOpen, false},
		{models.TicketStatusResolved, models.TicketStatusClosed, true},
		{models.TicketStatusResolved, models.TicketStatusInProgress, true},
		{models.TicketStatusClosed, models.TicketStatusOpen, false},
		{models.TicketStatusClosed, models.TicketStatusResolved, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.allowed, transitionAllowed(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTicketTransition(t *testing.T) {
	store := newTicketStoreStub()
	audit := &auditStub{}
	store.tickets["ticket-1"] = &models.SupportTicket{
		ID:        "ticket-1",
		StudentID: "user-1",
		Status:    models.TicketStatusOpen,
	}
	svc := NewTicketService(store, audit, nil, nil)

	ticket, err := svc.Transition(context.Background(), "ticket-1", dto.TransitionTicketRequest{
		Status:    models.TicketStatusInProgress,
		ReplyNote: "Looking into it.",
	}, "staff-1")
	require.NoError(t, err)
	require.Equal(t, models.TicketStatusInProgress, ticket.Status)
	require.NotNil(t, ticket.AssignedTo)
	require.Equal(t, "staff-1", *ticket.AssignedTo)
	require.NotNil(t, ticket.ReplyNote)
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionTicketTransition, audit.logs[0].Action)
}

func TestTicketTransitionInvalidEdge(t *testing.T) {
	store := newTicketStoreStub()
	store.tickets["ticket-1"] = &models.SupportTicket{
		ID:     "ticket-1",
		Status: models.TicketStatusClosed,
	}
	svc := NewTicketService(store, nil, nil, nil)

	_, err := svc.Transition(context.Background(), "ticket-1", dto.TransitionTicketRequest{
		Status: models.TicketStatusOpen,
	}, "staff-1")
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestTicketTransitionConflict(t *testing.T) {
	store := newTicketStoreStub()
	store.tickets["ticket-1"] = &models.SupportTicket{
		ID:     "ticket-1",
		Status: models.TicketStatusOpen,
	}
	store.transitionErr = sql.ErrNoRows
	svc := NewTicketService(store, nil, nil, nil)

	_, err := svc.Transition(context.Background(), "ticket-1", dto.TransitionTicketRequest{
		Status: models.TicketStatusInProgress,
	}, "staff-1")
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestTicketListScopesStudents(t *testing.T) {
	store := newTicketStoreStub()
	svc := NewTicketService(store, nil, nil, nil)

	_, err := svc.List(context.Background(), dto.TicketQuery{}, &models.JWTClaims{
		UserID: "user-1",
		Role:   models.RoleStudent,
	})
	require.NoError(t, err)
	require.Equal(t, "user-1", store.filter.StudentID)
}

func TestTicketGetForbidsForeignStudent(t *testing.T) {
	store := newTicketStoreStub()
	store.tickets["ticket-1"] = &models.SupportTicket{
		ID:        "ticket-1",
		StudentID: "user-1",
		Status:    models.TicketStatusOpen,
	}
	svc := NewTicketService(store, nil, nil, nil)

	_, err := svc.Get(context.Background(), "ticket-1", &models.JWTClaims{
		UserID: "user-2",
		Role:   models.RoleStudent,
	})
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}
