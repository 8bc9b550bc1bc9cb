package dto

import "github.com/noah-isme/campus-portal-api/internal/models"

// SubmitChangeRequest carries the proposed profile values keyed by field
// name. Only fields listed in models.EditableProfileFields are accepted.
type SubmitChangeRequest struct {
	Changes map[string]string `json:"changes" binding:"required"`
}

// ReviewChangeRequest captures an admin decision plus optional note.
type ReviewChangeRequest struct {
	Decision models.ChangeRequestStatus `json:"decision" binding:"required"`
	Note     string                     `json:"note"`
}

// ChangeRequestQuery mirrors supported listing filters.
type ChangeRequestQuery struct {
	Status    []models.ChangeRequestStatus
	SubjectID string
	Limit     int
	Offset    int
}
