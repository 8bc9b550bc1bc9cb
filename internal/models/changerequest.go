package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ChangeRequestStatus captures the lifecycle of a profile change request.
type ChangeRequestStatus string

const (
	ChangeRequestStatusPending  ChangeRequestStatus = "PENDING"
	ChangeRequestStatusApproved ChangeRequestStatus = "APPROVED"
	ChangeRequestStatusRejected ChangeRequestStatus = "REJECTED"
)

// Terminal reports whether the status permits no further transitions.
func (s ChangeRequestStatus) Terminal() bool {
	return s == ChangeRequestStatusApproved || s == ChangeRequestStatusRejected
}

// FieldDiff records the before/after values for one profile field.
type FieldDiff struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// FieldDiffSet maps field keys to their proposed diffs. Stored as JSONB.
type FieldDiffSet map[string]FieldDiff

// Value implements driver.Valuer for JSONB storage.
func (s FieldDiffSet) Value() (driver.Value, error) {
	if s == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for JSONB retrieval.
func (s *FieldDiffSet) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("unsupported field diff source type %T", src)
	}
}

// NewValues returns the proposed values keyed by field, ready to be applied
// onto the canonical profile on approval.
func (s FieldDiffSet) NewValues() map[string]string {
	values := make(map[string]string, len(s))
	for key, diff := range s {
		values[key] = diff.New
	}
	return values
}

// ProfileChangeRequest is an audit-tracked batch of proposed profile edits
// awaiting admin review. Rows are never deleted; terminal rows form the
// audit trail.
type ProfileChangeRequest struct {
	ID           string              `db:"id" json:"id"`
	SubjectID    string              `db:"subject_id" json:"subject_id"`
	Changes      FieldDiffSet        `db:"changes" json:"changes"`
	Status       ChangeRequestStatus `db:"status" json:"status"`
	RequestedBy  string              `db:"requested_by" json:"requested_by"`
	RequestedAt  time.Time           `db:"requested_at" json:"requested_at"`
	ReviewedBy   *string             `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time          `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReviewerNote *string             `db:"reviewer_note" json:"reviewer_note,omitempty"`
}

// ChangeRequestFilter constrains listing queries.
type ChangeRequestFilter struct {
	Status      []ChangeRequestStatus
	SubjectID   string
	RequestedBy string
	Limit       int
	Offset      int
}
