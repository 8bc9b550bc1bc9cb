package models

import "time"

// Programme is one catalog entry students can request fee quotes for.
type Programme struct {
	ID              string    `db:"id" json:"id"`
	Code            string    `db:"code" json:"code"`
	Name            string    `db:"name" json:"name"`
	Level           string    `db:"level" json:"level"`
	Terms           int       `db:"terms" json:"terms"`
	TuitionPerTerm  int64     `db:"tuition_per_term" json:"tuition_per_term"`
	RegistrationFee int64     `db:"registration_fee" json:"registration_fee"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// FeeQuoteStatus tracks asynchronous quote document rendering.
type FeeQuoteStatus string

const (
	FeeQuoteStatusPending FeeQuoteStatus = "PENDING"
	FeeQuoteStatusReady   FeeQuoteStatus = "READY"
	FeeQuoteStatusFailed  FeeQuoteStatus = "FAILED"
)

// FeeQuote is a computed fee breakdown for a programme plus scholarship tier.
// The rendered document is produced asynchronously; FilePath is set once the
// quote is READY.
type FeeQuote struct {
	ID                 string         `db:"id" json:"id"`
	ProgrammeID        string         `db:"programme_id" json:"programme_id"`
	RequestedBy        string         `db:"requested_by" json:"requested_by"`
	ScholarshipPercent int            `db:"scholarship_percent" json:"scholarship_percent"`
	TuitionTotal       int64          `db:"tuition_total" json:"tuition_total"`
	RegistrationFee    int64          `db:"registration_fee" json:"registration_fee"`
	Discount           int64          `db:"discount" json:"discount"`
	TotalPayable       int64          `db:"total_payable" json:"total_payable"`
	Status             FeeQuoteStatus `db:"status" json:"status"`
	FilePath           *string        `db:"file_path" json:"-"`
	FailureReason      *string        `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	CompletedAt        *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}
