package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/repository"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
	"github.com/noah-isme/campus-portal-api/pkg/export"
)

type changeRequestStore interface {
	Create(ctx context.Context, request *models.ProfileChangeRequest) error
	GetByID(ctx context.Context, id string) (*models.ProfileChangeRequest, error)
	FindPendingBySubject(ctx context.Context, subjectID string) (*models.ProfileChangeRequest, error)
	List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ProfileChangeRequest, error)
	ReviewApprove(ctx context.Context, params repository.ReviewParams, subjectID string, fields map[string]string) error
	ReviewReject(ctx context.Context, params repository.ReviewParams) error
}

type profileReader interface {
	FindByID(ctx context.Context, id string) (*models.StudentProfile, error)
	FindByUserID(ctx context.Context, userID string) (*models.StudentProfile, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// editableFieldSet indexes the editable registry for O(1) key validation.
var editableFieldSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(models.EditableProfileFields))
	for _, key := range models.EditableProfileFields {
		set[key] = struct{}{}
	}
	return set
}()

// BuildDiff compares proposed values against the current profile snapshot and
// returns only the fields that actually change. Keys outside the editable
// registry are rejected; proposing a value equal to the stored one is dropped
// silently.
func BuildDiff(current map[string]string, proposed map[string]string) (models.FieldDiffSet, error) {
	diff := make(models.FieldDiffSet)
	for key, newValue := range proposed {
		if _, ok := editableFieldSet[key]; !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("field %q is not editable", key))
		}
		oldValue := current[key]
		if oldValue == newValue {
			continue
		}
		diff[key] = models.FieldDiff{Old: oldValue, New: newValue}
	}
	return diff, nil
}

// ProfileChangeService orchestrates the submit and review workflow for
// student profile change requests.
type ProfileChangeService struct {
	requests changeRequestStore
	profiles profileReader
	audit    auditLogger
	logger   *zap.Logger
}

// NewProfileChangeService constructs the service.
func NewProfileChangeService(requests changeRequestStore, profiles profileReader, audit auditLogger, logger *zap.Logger) *ProfileChangeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileChangeService{
		requests: requests,
		profiles: profiles,
		audit:    audit,
		logger:   logger,
	}
}

// Submit records a new pending change request for the caller's own profile.
// An empty diff or an existing pending request for the same profile is
// rejected.
func (s *ProfileChangeService) Submit(ctx context.Context, req dto.SubmitChangeRequest, userID string) (*models.ProfileChangeRequest, error) {
	if len(req.Changes) == 0 {
		return nil, appErrors.ErrNoChanges
	}
	profile, err := s.profiles.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no profile found for user")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load profile")
	}

	diff, err := BuildDiff(profile.FieldValues(), req.Changes)
	if err != nil {
		return nil, err
	}
	if len(diff) == 0 {
		return nil, appErrors.ErrNoChanges
	}

	if _, err := s.requests.FindPendingBySubject(ctx, profile.ID); err == nil {
		return nil, appErrors.ErrRequestPending
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending requests")
	}

	request := &models.ProfileChangeRequest{
		SubjectID:   profile.ID,
		Changes:     diff,
		Status:      models.ChangeRequestStatusPending,
		RequestedBy: userID,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		// The partial unique index closes the race between the pending
		// check above and this insert.
		if errors.Is(err, repository.ErrPendingExists) {
			return nil, appErrors.ErrRequestPending
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create change request")
	}

	changesJSON, _ := json.Marshal(diff)
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionChangeRequestSubmit,
		Resource:   "profile_change_request",
		ResourceID: &request.ID,
		NewValues:  changesJSON,
	})
	return request, nil
}

// HasPending reports whether the profile currently has a request under review.
func (s *ProfileChangeService) HasPending(ctx context.Context, subjectID string) (bool, error) {
	if _, err := s.requests.FindPendingBySubject(ctx, subjectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check pending requests")
	}
	return true, nil
}

// List returns change requests visible to the actor. Students see only their
// own submissions; admins see everything.
func (s *ProfileChangeService) List(ctx context.Context, query dto.ChangeRequestQuery, actor *models.JWTClaims) ([]models.ProfileChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.ChangeRequestFilter{
		Status:    query.Status,
		SubjectID: query.SubjectID,
		Limit:     query.Limit,
		Offset:    query.Offset,
	}
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAdmin:
		// full access, no extra filters
	case models.RoleStudent:
		filter.RequestedBy = actor.UserID
	default:
		return nil, appErrors.ErrForbidden
	}
	requests, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list change requests")
	}
	return requests, nil
}

// Get returns one change request enforcing scope constraints.
func (s *ProfileChangeService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.ProfileChangeRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}
	if actor.Role == models.RoleStudent && request.RequestedBy != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return request, nil
}

// ReviewOutcome is the result of resolving a request. Profile is set on
// approval and carries the post-apply field values; rejection leaves it nil.
type ReviewOutcome struct {
	Request *models.ProfileChangeRequest `json:"request"`
	Profile *models.StudentProfile       `json:"profile,omitempty"`
}

// Review resolves a pending request. Approval applies the stored diff to the
// canonical profile and flips the status in one transaction, then returns the
// updated profile alongside the request; rejection flips the status only. A
// request already in a terminal state yields ErrAlreadyReviewed, as does
// losing the conditional update to a concurrent reviewer.
func (s *ProfileChangeService) Review(ctx context.Context, id string, req dto.ReviewChangeRequest, reviewerID string) (*ReviewOutcome, error) {
	if req.Decision != models.ChangeRequestStatusApproved && req.Decision != models.ChangeRequestStatusRejected {
		return nil, appErrors.Clone(appErrors.ErrValidation, "decision must be APPROVED or REJECTED")
	}
	request, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load change request")
	}
	if request.Status.Terminal() {
		return nil, appErrors.ErrAlreadyReviewed
	}

	now := time.Now().UTC()
	params := repository.ReviewParams{
		ID:           request.ID,
		Status:       req.Decision,
		ReviewedBy:   reviewerID,
		ReviewedAt:   now,
		ReviewerNote: optionalString(req.Note),
	}
	if req.Decision == models.ChangeRequestStatusApproved {
		err = s.requests.ReviewApprove(ctx, params, request.SubjectID, request.Changes.NewValues())
	} else {
		err = s.requests.ReviewReject(ctx, params)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrAlreadyReviewed
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to review change request")
	}

	request.Status = req.Decision
	request.ReviewedBy = &reviewerID
	request.ReviewedAt = &now
	request.ReviewerNote = params.ReviewerNote

	outcome := &ReviewOutcome{Request: request}
	if req.Decision == models.ChangeRequestStatusApproved {
		// The transaction already committed; a failed reload only costs the
		// caller the inline profile snapshot.
		profile, err := s.profiles.FindByID(ctx, request.SubjectID)
		if err != nil {
			s.logger.Warn("failed to reload profile after approval", zap.Error(err))
		} else {
			outcome.Profile = profile
		}
	}

	changesJSON, _ := json.Marshal(request.Changes)
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &reviewerID,
		Action:     models.AuditActionChangeRequestReview,
		Resource:   "profile_change_request",
		ResourceID: &request.ID,
		NewValues:  changesJSON,
	})
	return outcome, nil
}

// ExportCSV renders the requests matching the query as a CSV document. Scope
// rules are the same as List.
func (s *ProfileChangeService) ExportCSV(ctx context.Context, query dto.ChangeRequestQuery, actor *models.JWTClaims) ([]byte, error) {
	requests, err := s.List(ctx, query, actor)
	if err != nil {
		return nil, err
	}
	data := export.Dataset{
		Headers: []string{"ID", "Subject", "Status", "Requested By", "Requested At", "Reviewed By", "Reviewed At", "Changes"},
		Rows:    make([]map[string]string, 0, len(requests)),
	}
	for _, request := range requests {
		reviewedBy := ""
		if request.ReviewedBy != nil {
			reviewedBy = *request.ReviewedBy
		}
		reviewedAt := ""
		if request.ReviewedAt != nil {
			reviewedAt = request.ReviewedAt.Format(time.RFC3339)
		}
		changes, _ := json.Marshal(request.Changes)
		data.Rows = append(data.Rows, map[string]string{
			"ID":           request.ID,
			"Subject":      request.SubjectID,
			"Status":       string(request.Status),
			"Requested By": request.RequestedBy,
			"Requested At": request.RequestedAt.Format(time.RFC3339),
			"Reviewed By":  reviewedBy,
			"Reviewed At":  reviewedAt,
			"Changes":      string(changes),
		})
	}
	document, err := export.NewCSVExporter().Render(data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render change request export")
	}
	return document, nil
}

func (s *ProfileChangeService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "profile-change-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
