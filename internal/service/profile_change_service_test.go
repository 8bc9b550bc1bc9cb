package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/repository"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

type changeRequestStoreStub struct {
	requests      map[string]*models.ProfileChangeRequest
	pending       map[string]*models.ProfileChangeRequest
	profiles      *profileReaderStub
	seq           int
	createErr     error
	reviewErr     error
	appliedFields map[string]string
	filter        models.ChangeRequestFilter
}

func newChangeRequestStoreStub() *changeRequestStoreStub {
	return &changeRequestStoreStub{
		requests: make(map[string]*models.ProfileChangeRequest),
		pending:  make(map[string]*models.ProfileChangeRequest),
	}
}

func (s *changeRequestStoreStub) Create(ctx context.Context, request *models.ProfileChangeRequest) error {
	if s.createErr != nil {
		return s.createErr
	}
	if request.ID == "" {
		s.seq++
		request.ID = fmt.Sprintf("req-%d", s.seq)
	}
	s.requests[request.ID] = request
	s.pending[request.SubjectID] = request
	return nil
}

func (s *changeRequestStoreStub) GetByID(ctx context.Context, id string) (*models.ProfileChangeRequest, error) {
	if request, ok := s.requests[id]; ok {
		copy := *request
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *changeRequestStoreStub) FindPendingBySubject(ctx context.Context, subjectID string) (*models.ProfileChangeRequest, error) {
	if request, ok := s.pending[subjectID]; ok {
		copy := *request
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *changeRequestStoreStub) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ProfileChangeRequest, error) {
	s.filter = filter
	result := make([]models.ProfileChangeRequest, 0, len(s.requests))
	for _, request := range s.requests {
		result = append(result, *request)
	}
	return result, nil
}

func (s *changeRequestStoreStub) ReviewApprove(ctx context.Context, params repository.ReviewParams, subjectID string, fields map[string]string) error {
	if s.reviewErr != nil {
		return s.reviewErr
	}
	if err := s.flip(params); err != nil {
		return err
	}
	s.appliedFields = fields
	if s.profiles != nil {
		if profile, err := s.profiles.FindByID(ctx, subjectID); err == nil {
			profile.ApplyFieldValues(fields)
		}
	}
	return nil
}

func (s *changeRequestStoreStub) ReviewReject(ctx context.Context, params repository.ReviewParams) error {
	if s.reviewErr != nil {
		return s.reviewErr
	}
	return s.flip(params)
}

func (s *changeRequestStoreStub) flip(params repository.ReviewParams) error {
	request, ok := s.requests[params.ID]
	if !ok || request.Status != models.ChangeRequestStatusPending {
		return sql.ErrNoRows
	}
	request.Status = params.Status
	request.ReviewedBy = &params.ReviewedBy
	request.ReviewedAt = &params.ReviewedAt
	request.ReviewerNote = params.ReviewerNote
	delete(s.pending, request.SubjectID)
	return nil
}

type profileReaderStub struct {
	profiles map[string]*models.StudentProfile
}

func (s *profileReaderStub) FindByID(ctx context.Context, id string) (*models.StudentProfile, error) {
	for _, profile := range s.profiles {
		if profile.ID == id {
			return profile, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *profileReaderStub) FindByUserID(ctx context.Context, userID string) (*models.StudentProfile, error) {
	if profile, ok := s.profiles[userID]; ok {
		return profile, nil
	}
	return nil, sql.ErrNoRows
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func testProfile() *models.StudentProfile {
	return &models.StudentProfile{
		ID:        "profile-1",
		UserID:    "user-1",
		StudentNo: "S-100",
		FullName:  "Ada Lovelace",
		Phone:     "0800000000",
		City:      "Lagos",
	}
}

func newChangeService(store *changeRequestStoreStub, profile *models.StudentProfile, audit *auditStub) *ProfileChangeService {
	profiles := &profileReaderStub{profiles: map[string]*models.StudentProfile{}}
	if profile != nil {
		profiles.profiles[profile.UserID] = profile
	}
	store.profiles = profiles
	var auditLogger auditLogger
	if audit != nil {
		auditLogger = audit
	}
	return NewProfileChangeService(store, profiles, auditLogger, nil)
}

func TestBuildDiffDropsEqualValues(t *testing.T) {
	current := map[string]string{"phone": "0800000000", "city": "Lagos"}
	diff, err := BuildDiff(current, map[string]string{
		"phone": "0811111111",
		"city":  "Lagos",
	})
	require.NoError(t, err)
	require.Len(t, diff, 1)
	require.Equal(t, models.FieldDiff{Old: "0800000000", New: "0811111111"}, diff["phone"])
}

func TestBuildDiffRejectsUnknownField(t *testing.T) {
	_, err := BuildDiff(map[string]string{}, map[string]string{"student_no": "S-999"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestSubmitCreatesPendingRequest(t *testing.T) {
	store := newChangeRequestStoreStub()
	audit := &auditStub{}
	svc := newChangeService(store, testProfile(), audit)

	request, err := svc.Submit(context.Background(), dto.SubmitChangeRequest{
		Changes: map[string]string{"phone": "0811111111"},
	}, "user-1")
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStatusPending, request.Status)
	require.Equal(t, "profile-1", request.SubjectID)
	require.Equal(t, "user-1", request.RequestedBy)
	require.Equal(t, "0800000000", request.Changes["phone"].Old)
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionChangeRequestSubmit, audit.logs[0].Action)
}

func TestSubmitNoChanges(t *testing.T) {
	store := newChangeRequestStoreStub()
	svc := newChangeService(store, testProfile(), nil)

	_, err := svc.Submit(context.Background(), dto.SubmitChangeRequest{}, "user-1")
	require.ErrorIs(t, err, appErrors.ErrNoChanges)

	// all proposed values equal the stored ones
	_, err = svc.Submit(context.Background(), dto.SubmitChangeRequest{
		Changes: map[string]string{"city": "Lagos"},
	}, "user-1")
	require.ErrorIs(t, err, appErrors.ErrNoChanges)
}

func TestSubmitBlockedByPendingRequest(t *testing.T) {
	store := newChangeRequestStoreStub()
	svc := newChangeService(store, testProfile(), nil)

	_, err := svc.Submit(context.Background(), dto.SubmitChangeRequest{
		Changes: map[string]string{"phone": "0811111111"},
	}, "user-1")
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), dto.SubmitChangeRequest{
		Changes: map[string]string{"city": "Abuja"},
	}, "user-1")
	require.ErrorIs(t, err, appErrors.ErrRequestPending)
}

func TestSubmitMapsUniqueIndexViolation(t *testing.T) {
	store := newChangeRequestStoreStub()
	store.createErr = repository.ErrPendingExists
	svc := newChangeService(store, testProfile(), nil)

	_, err := svc.Submit(context.Background(), dto.SubmitChangeRequest{
		Changes: map[string]string{"phone": "0811111111"},
	}, "user-1")
	require.ErrorIs(t, err, appErrors.ErrRequestPending)
}

func TestReviewApproveAppliesDiff(t *testing.T) {
	store := newChangeRequestStoreStub()
	audit := &auditStub{}
	store.requests["req-1"] = &models.ProfileChangeRequest{
		ID:        "req-1",
		SubjectID: "profile-1",
		Status:    models.ChangeRequestStatusPending,
		Changes: models.FieldDiffSet{
			"phone": {Old: "0800000000", New: "0811111111"},
		},
		RequestedBy: "user-1",
	}
	svc := newChangeService(store, testProfile(), audit)

	outcome, err := svc.Review(context.Background(), "req-1", dto.ReviewChangeRequest{
		Decision: models.ChangeRequestStatusApproved,
		Note:     "verified against national registry",
	}, "admin-1")
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStatusApproved, outcome.Request.Status)
	require.NotNil(t, outcome.Request.ReviewedBy)
	require.Equal(t, "admin-1", *outcome.Request.ReviewedBy)
	require.NotNil(t, outcome.Request.ReviewedAt)
	require.NotNil(t, outcome.Request.ReviewerNote)
	require.Equal(t, map[string]string{"phone": "0811111111"}, store.appliedFields)
	require.NotNil(t, outcome.Profile)
	require.Equal(t, "0811111111", outcome.Profile.Phone)
	require.Len(t, audit.logs, 1)
}

func TestReviewRejectLeavesProfileUntouched(t *testing.T) {
	store := newChangeRequestStoreStub()
	store.requests["req-1"] = &models.ProfileChangeRequest{
		ID:        "req-1",
		SubjectID: "profile-1",
		Status:    models.ChangeRequestStatusPending,
		Changes: models.FieldDiffSet{
			"city": {Old: "Lagos", New: "Abuja"},
		},
		RequestedBy: "user-1",
	}
	svc := newChangeService(store, testProfile(), nil)

	outcome, err := svc.Review(context.Background(), "req-1", dto.ReviewChangeRequest{
		Decision: models.ChangeRequestStatusRejected,
	}, "admin-1")
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStatusRejected, outcome.Request.Status)
	require.Nil(t, outcome.Request.ReviewerNote)
	require.Nil(t, outcome.Profile)
	require.Nil(t, store.appliedFields)
}

func TestReviewTerminalRequest(t *testing.T) {
	store := newChangeRequestStoreStub()
	reviewedAt := time.Now().UTC()
	reviewer := "admin-0"
	store.requests["req-1"] = &models.ProfileChangeRequest{
		ID:         "req-1",
		SubjectID:  "profile-1",
		Status:     models.ChangeRequestStatusApproved,
		ReviewedBy: &reviewer,
		ReviewedAt: &reviewedAt,
	}
	svc := newChangeService(store, testProfile(), nil)

	_, err := svc.Review(context.Background(), "req-1", dto.ReviewChangeRequest{
		Decision: models.ChangeRequestStatusRejected,
	}, "admin-1")
	require.ErrorIs(t, err, appErrors.ErrAlreadyReviewed)
}

func TestReviewLostRace(t *testing.T) {
	store := newChangeRequestStoreStub()
	store.requests["req-1"] = &models.ProfileChangeRequest{
		ID:        "req-1",
		SubjectID: "profile-1",
		Status:    models.ChangeRequestStatusPending,
		Changes:   models.FieldDiffSet{"city": {Old: "Lagos", New: "Abuja"}},
	}
	store.reviewErr = sql.ErrNoRows
	svc := newChangeService(store, testProfile(), nil)

	_, err := svc.Review(context.Background(), "req-1", dto.ReviewChangeRequest{
		Decision: models.ChangeRequestStatusApproved,
	}, "admin-1")
	require.ErrorIs(t, err, appErrors.ErrAlreadyReviewed)
}

func TestReviewInvalidDecision(t *testing.T) {
	svc := newChangeService(newChangeRequestStoreStub(), testProfile(), nil)

	_, err := svc.Review(context.Background(), "req-1", dto.ReviewChangeRequest{
		Decision: models.ChangeRequestStatusPending,
	}, "admin-1")
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestSubmitAllowedAfterTerminalReview(t *testing.T) {
	store := newChangeRequestStoreStub()
	svc := newChangeService(store, testProfile(), nil)

	first, err := svc.Submit(context.Background(), dto.SubmitChangeRequest{
		Changes: map[string]string{"phone": "0811111111"},
	}, "user-1")
	require.NoError(t, err)

	_, err = svc.Review(context.Background(), first.ID, dto.ReviewChangeRequest{
		Decision: models.ChangeRequestStatusRejected,
	}, "admin-1")
	require.NoError(t, err)

	// the rejected request no longer blocks the subject
	second, err := svc.Submit(context.Background(), dto.SubmitChangeRequest{
		Changes: map[string]string{"city": "Abuja"},
	}, "user-1")
	require.NoError(t, err)
	require.Equal(t, models.ChangeRequestStatusPending, second.Status)
	require.NotEqual(t, first.ID, second.ID)
}

func TestListScopesStudentsToOwnRequests(t *testing.T) {
	store := newChangeRequestStoreStub()
	svc := newChangeService(store, testProfile(), nil)

	_, err := svc.List(context.Background(), dto.ChangeRequestQuery{}, &models.JWTClaims{
		UserID: "user-1",
		Role:   models.RoleStudent,
	})
	require.NoError(t, err)
	require.Equal(t, "user-1", store.filter.RequestedBy)

	_, err = svc.List(context.Background(), dto.ChangeRequestQuery{}, &models.JWTClaims{
		UserID: "admin-1",
		Role:   models.RoleAdmin,
	})
	require.NoError(t, err)
	require.Empty(t, store.filter.RequestedBy)
}

func TestGetForbidsForeignStudent(t *testing.T) {
	store := newChangeRequestStoreStub()
	store.requests["req-1"] = &models.ProfileChangeRequest{
		ID:          "req-1",
		SubjectID:   "profile-1",
		Status:      models.ChangeRequestStatusPending,
		RequestedBy: "user-1",
	}
	svc := newChangeService(store, testProfile(), nil)

	_, err := svc.Get(context.Background(), "req-1", &models.JWTClaims{
		UserID: "user-2",
		Role:   models.RoleStudent,
	})
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestHasPending(t *testing.T) {
	store := newChangeRequestStoreStub()
	svc := newChangeService(store, testProfile(), nil)

	pending, err := svc.HasPending(context.Background(), "profile-1")
	require.NoError(t, err)
	require.False(t, pending)

	store.pending["profile-1"] = &models.ProfileChangeRequest{ID: "req-1", SubjectID: "profile-1"}
	pending, err = svc.HasPending(context.Background(), "profile-1")
	require.NoError(t, err)
	require.True(t, pending)
}

func TestExportCSV(t *testing.T) {
	store := newChangeRequestStoreStub()
	store.requests["req-1"] = &models.ProfileChangeRequest{
		ID:          "req-1",
		SubjectID:   "profile-1",
		Status:      models.ChangeRequestStatusPending,
		RequestedBy: "user-1",
		RequestedAt: time.Now().UTC(),
		Changes:     models.FieldDiffSet{"city": {Old: "Lagos", New: "Abuja"}},
	}
	svc := newChangeService(store, testProfile(), nil)

	document, err := svc.ExportCSV(context.Background(), dto.ChangeRequestQuery{}, &models.JWTClaims{
		UserID: "admin-1",
		Role:   models.RoleAdmin,
	})
	require.NoError(t, err)
	require.Contains(t, string(document), "req-1")
	require.Contains(t, string(document), "PENDING")
}
