package dto

import "github.com/noah-isme/campus-portal-api/internal/models"

// CreateTicketRequest opens a new support ticket.
type CreateTicketRequest struct {
	Category models.TicketCategory `json:"category" validate:"required"`
	Subject  string                `json:"subject" validate:"required,max=200"`
	Body     string                `json:"body" validate:"required"`
}

// TransitionTicketRequest moves a ticket along its lifecycle.
type TransitionTicketRequest struct {
	Status    models.TicketStatus `json:"status" binding:"required"`
	ReplyNote string              `json:"reply_note"`
}

// TicketQuery mirrors supported listing filters.
type TicketQuery struct {
	Status   []models.TicketStatus
	Category models.TicketCategory
	Limit    int
	Offset   int
}
