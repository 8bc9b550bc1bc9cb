package dto

import "time"

// CalendarEventRequest is the create/update payload for calendar events.
type CalendarEventRequest struct {
	Title       string    `json:"title" validate:"required"`
	Description string    `json:"description"`
	Category    string    `json:"category" validate:"required,category"`
	StartsAt    time.Time `json:"starts_at" validate:"required"`
	EndsAt      time.Time `json:"ends_at" validate:"required"`
}

// CalendarQuery bounds the listing window.
type CalendarQuery struct {
	From     time.Time
	To       time.Time
	Category string
}
