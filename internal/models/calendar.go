package models

import "time"

// CalendarCategory groups academic calendar entries.
type CalendarCategory string

const (
	CalendarCategoryHoliday      CalendarCategory = "HOLIDAY"
	CalendarCategoryExam         CalendarCategory = "EXAM"
	CalendarCategoryRegistration CalendarCategory = "REGISTRATION"
	CalendarCategoryEvent        CalendarCategory = "EVENT"
)

// CalendarEvent is one entry on the academic calendar.
type CalendarEvent struct {
	ID          string           `db:"id" json:"id"`
	Title       string           `db:"title" json:"title"`
	Description string           `db:"description" json:"description"`
	Category    CalendarCategory `db:"category" json:"category"`
	StartsAt    time.Time        `db:"starts_at" json:"starts_at"`
	EndsAt      time.Time        `db:"ends_at" json:"ends_at"`
	CreatedBy   string           `db:"created_by" json:"created_by"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// CalendarFilter constrains calendar listings to a window and category.
type CalendarFilter struct {
	From     time.Time
	To       time.Time
	Category CalendarCategory
}
