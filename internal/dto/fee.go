package dto

// CreateFeeQuoteRequest asks for a fee quote document for one programme.
type CreateFeeQuoteRequest struct {
	ProgrammeID        string `json:"programme_id" binding:"required"`
	ScholarshipPercent int    `json:"scholarship_percent" binding:"min=0,max=100"`
}

// FeeQuoteDownload carries a short-lived signed URL for the rendered quote.
type FeeQuoteDownload struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}
