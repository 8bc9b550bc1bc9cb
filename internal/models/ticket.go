package models

import "time"

// TicketStatus captures the support ticket lifecycle.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "OPEN"
	TicketStatusInProgress TicketStatus = "IN_PROGRESS"
	TicketStatusResolved   TicketStatus = "RESOLVED"
	TicketStatusClosed     TicketStatus = "CLOSED"
)

// TicketCategory groups support requests for triage.
type TicketCategory string

const (
	TicketCategoryAdmissions TicketCategory = "ADMISSIONS"
	TicketCategoryFees       TicketCategory = "FEES"
	TicketCategoryAcademics  TicketCategory = "ACADEMICS"
	TicketCategoryTechnical  TicketCategory = "TECHNICAL"
	TicketCategoryOther      TicketCategory = "OTHER"
)

// SupportTicket is a student-filed query handled by portal staff.
type SupportTicket struct {
	ID         string         `db:"id" json:"id"`
	StudentID  string         `db:"student_id" json:"student_id"`
	Category   TicketCategory `db:"category" json:"category"`
	Subject    string         `db:"subject" json:"subject"`
	Body       string         `db:"body" json:"body"`
	Status     TicketStatus   `db:"status" json:"status"`
	AssignedTo *string        `db:"assigned_to" json:"assigned_to,omitempty"`
	ReplyNote  *string        `db:"reply_note" json:"reply_note,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// TicketFilter constrains ticket listings.
type TicketFilter struct {
	Status     []TicketStatus
	Category   TicketCategory
	StudentID  string
	AssignedTo string
	Limit      int
	Offset     int
}
