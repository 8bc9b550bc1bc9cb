package dto

import "time"

// AnnouncementRequest is the create/update payload for announcements.
type AnnouncementRequest struct {
	Title       string     `json:"title" validate:"required"`
	Content     string     `json:"content" validate:"required"`
	Audience    string     `json:"audience" validate:"required,audience"`
	Priority    string     `json:"priority" validate:"required,priority"`
	IsPinned    bool       `json:"is_pinned"`
	PublishedAt time.Time  `json:"published_at" validate:"required"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// AnnouncementQuery mirrors supported listing filters.
type AnnouncementQuery struct {
	Audience string `form:"audience"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}
