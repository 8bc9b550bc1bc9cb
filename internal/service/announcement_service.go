package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

const announcementCachePrefix = "announcements"

type announcementRepository interface {
	List(ctx context.Context, filter models.AnnouncementFilter) ([]models.Announcement, int, error)
	GetByID(ctx context.Context, id string) (*models.Announcement, error)
	Create(ctx context.Context, announcement *models.Announcement) error
	Update(ctx context.Context, announcement *models.Announcement) error
	Delete(ctx context.Context, id string) error
}

type payloadCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// AnnouncementService handles the portal announcement feed. Listing results
// are cached in Redis; any write invalidates the whole feed.
type AnnouncementService struct {
	repo      announcementRepository
	cache     payloadCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAnnouncementService constructs the service.
func NewAnnouncementService(repo announcementRepository, cache payloadCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *AnnouncementService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	svc := &AnnouncementService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
	svc.validator.RegisterValidation("audience", func(fl validator.FieldLevel) bool {
		switch models.AnnouncementAudience(strings.ToUpper(fl.Field().String())) {
		case models.AnnouncementAudienceAll, models.AnnouncementAudienceStudents, models.AnnouncementAudienceStaff:
			return true
		default:
			return false
		}
	})
	svc.validator.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		switch models.AnnouncementPriority(strings.ToUpper(fl.Field().String())) {
		case models.AnnouncementPriorityLow, models.AnnouncementPriorityNormal, models.AnnouncementPriorityHigh:
			return true
		default:
			return false
		}
	})
	return svc
}

type announcementPage struct {
	Rows  []models.Announcement `json:"rows"`
	Total int                   `json:"total"`
}

// ListActive returns the live feed for an audience, pinned first. Results are
// served from cache when possible.
func (s *AnnouncementService) ListActive(ctx context.Context, query dto.AnnouncementQuery) ([]models.Announcement, *models.Pagination, error) {
	filter := models.AnnouncementFilter{
		Audience:      models.AnnouncementAudience(strings.ToUpper(query.Audience)),
		IncludePinned: true,
		ActiveOnly:    true,
		Page:          query.Page,
		PageSize:      query.PageSize,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	key := fmt.Sprintf("%s:feed:%s:%d:%d", announcementCachePrefix, filter.Audience, filter.Page, filter.PageSize)
	if s.cache != nil {
		var cached announcementPage
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: cached.Total}
			return cached.Rows, pagination, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("announcement cache read failed", zap.Error(err))
		}
	}

	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list announcements")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, announcementPage{Rows: rows, Total: total}, s.cacheTTL); err != nil {
			s.logger.Warn("announcement cache write failed", zap.Error(err))
		}
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return rows, pagination, nil
}

// ListAll returns every announcement regardless of publish window (admin
// view). Never cached.
func (s *AnnouncementService) ListAll(ctx context.Context, query dto.AnnouncementQuery) ([]models.Announcement, *models.Pagination, error) {
	filter := models.AnnouncementFilter{
		Audience: models.AnnouncementAudience(strings.ToUpper(query.Audience)),
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list announcements")
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return rows, pagination, nil
}

// Get returns an announcement by id.
func (s *AnnouncementService) Get(ctx context.Context, id string) (*models.Announcement, error) {
	announcement, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to get announcement")
	}
	return announcement, nil
}

// Create registers a new announcement and invalidates the cached feed.
func (s *AnnouncementService) Create(ctx context.Context, req dto.AnnouncementRequest, createdBy string) (*models.Announcement, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(req.PublishedAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "expires_at must be after published_at")
	}
	announcement := &models.Announcement{
		Title:       req.Title,
		Content:     req.Content,
		Audience:    models.AnnouncementAudience(strings.ToUpper(req.Audience)),
		Priority:    models.AnnouncementPriority(strings.ToUpper(req.Priority)),
		IsPinned:    req.IsPinned,
		PublishedAt: req.PublishedAt,
		ExpiresAt:   req.ExpiresAt,
		CreatedBy:   createdBy,
	}
	if err := s.repo.Create(ctx, announcement); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create announcement")
	}
	s.invalidate(ctx)
	return announcement, nil
}

// Update modifies an existing announcement and invalidates the cached feed.
func (s *AnnouncementService) Update(ctx context.Context, id string, req dto.AnnouncementRequest) (*models.Announcement, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(req.PublishedAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "expires_at must be after published_at")
	}
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load announcement")
	}
	existing.Title = req.Title
	existing.Content = req.Content
	existing.Audience = models.AnnouncementAudience(strings.ToUpper(req.Audience))
	existing.Priority = models.AnnouncementPriority(strings.ToUpper(req.Priority))
	existing.IsPinned = req.IsPinned
	existing.PublishedAt = req.PublishedAt
	existing.ExpiresAt = req.ExpiresAt
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update announcement")
	}
	s.invalidate(ctx)
	return existing, nil
}

// Delete removes an announcement and invalidates the cached feed.
func (s *AnnouncementService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete announcement")
	}
	s.invalidate(ctx)
	return nil
}

func (s *AnnouncementService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, announcementCachePrefix+":*"); err != nil {
		s.logger.Warn("announcement cache invalidation failed", zap.Error(err))
	}
}
