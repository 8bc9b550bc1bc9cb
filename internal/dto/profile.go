package dto

// CreateProfileRequest is the admin payload for provisioning a student
// profile alongside its portal account.
type CreateProfileRequest struct {
	Email         string `json:"email" binding:"required,email"`
	Password      string `json:"password" binding:"required,min=8"`
	StudentNo     string `json:"student_no" binding:"required"`
	FullName      string `json:"full_name" binding:"required"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	City          string `json:"city"`
	GuardianName  string `json:"guardian_name"`
	GuardianPhone string `json:"guardian_phone"`
	NationalID    string `json:"national_id"`
	DateOfBirth   string `json:"date_of_birth"`
}

// ProfileQuery mirrors supported profile listing filters.
type ProfileQuery struct {
	Search    string `form:"search"`
	City      string `form:"city"`
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	SortBy    string `form:"sort_by"`
	SortOrder string `form:"sort_order"`
}
