package models

import "time"

// EditableProfileFields is the fixed, ordered registry of profile fields a
// student may propose changes to. Keys double as the student_profiles column
// names written on approval.
var EditableProfileFields = []string{
	"full_name",
	"phone",
	"address",
	"city",
	"guardian_name",
	"guardian_phone",
	"national_id",
	"date_of_birth",
}

// StudentProfile is the canonical per-student record backing the portal
// dashboard. All editable identity fields are plain strings; empty means
// unset.
type StudentProfile struct {
	ID            string    `db:"id" json:"id"`
	UserID        string    `db:"user_id" json:"user_id"`
	StudentNo     string    `db:"student_no" json:"student_no"`
	FullName      string    `db:"full_name" json:"full_name"`
	Phone         string    `db:"phone" json:"phone"`
	Address       string    `db:"address" json:"address"`
	City          string    `db:"city" json:"city"`
	GuardianName  string    `db:"guardian_name" json:"guardian_name"`
	GuardianPhone string    `db:"guardian_phone" json:"guardian_phone"`
	NationalID    string    `db:"national_id" json:"national_id"`
	DateOfBirth   string    `db:"date_of_birth" json:"date_of_birth"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// FieldValues returns the editable fields as a key/value snapshot keyed by
// EditableProfileFields entries.
func (p *StudentProfile) FieldValues() map[string]string {
	return map[string]string{
		"full_name":      p.FullName,
		"phone":          p.Phone,
		"address":        p.Address,
		"city":           p.City,
		"guardian_name":  p.GuardianName,
		"guardian_phone": p.GuardianPhone,
		"national_id":    p.NationalID,
		"date_of_birth":  p.DateOfBirth,
	}
}

// ApplyFieldValues writes the given values onto the profile, ignoring keys
// outside the editable registry.
func (p *StudentProfile) ApplyFieldValues(values map[string]string) {
	for key, value := range values {
		switch key {
		case "full_name":
			p.FullName = value
		case "phone":
			p.Phone = value
		case "address":
			p.Address = value
		case "city":
			p.City = value
		case "guardian_name":
			p.GuardianName = value
		case "guardian_phone":
			p.GuardianPhone = value
		case "national_id":
			p.NationalID = value
		case "date_of_birth":
			p.DateOfBirth = value
		}
	}
}

// ProfileFilter encapsulates allowed search parameters for listing profiles.
type ProfileFilter struct {
	Search    string
	City      string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
