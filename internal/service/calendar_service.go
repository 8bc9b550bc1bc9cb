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

const calendarCachePrefix = "calendar"

type calendarRepository interface {
	List(ctx context.Context, filter models.CalendarFilter) ([]models.CalendarEvent, error)
	GetByID(ctx context.Context, id string) (*models.CalendarEvent, error)
	Create(ctx context.Context, event *models.CalendarEvent) error
	Update(ctx context.Context, event *models.CalendarEvent) error
	Delete(ctx context.Context, id string) error
}

// CalendarService serves the academic calendar. Window reads are cached;
// writes invalidate the cache.
type CalendarService struct {
	repo      calendarRepository
	cache     payloadCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCalendarService constructs the service.
func NewCalendarService(repo calendarRepository, cache payloadCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *CalendarService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	svc := &CalendarService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
	svc.validator.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		switch models.CalendarCategory(strings.ToUpper(fl.Field().String())) {
		case models.CalendarCategoryHoliday, models.CalendarCategoryExam, models.CalendarCategoryRegistration, models.CalendarCategoryEvent:
			return true
		default:
			return false
		}
	})
	return svc
}

// List returns events overlapping the query window, cached per window.
func (s *CalendarService) List(ctx context.Context, query dto.CalendarQuery) ([]models.CalendarEvent, error) {
	filter := models.CalendarFilter{
		From:     query.From,
		To:       query.To,
		Category: models.CalendarCategory(strings.ToUpper(query.Category)),
	}

	key := fmt.Sprintf("%s:window:%d:%d:%s", calendarCachePrefix, filter.From.Unix(), filter.To.Unix(), filter.Category)
	if s.cache != nil {
		var cached []models.CalendarEvent
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("calendar cache read failed", zap.Error(err))
		}
	}

	events, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list calendar events")
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, events, s.cacheTTL); err != nil {
			s.logger.Warn("calendar cache write failed", zap.Error(err))
		}
	}
	return events, nil
}

// Get returns a single event by id.
func (s *CalendarService) Get(ctx context.Context, id string) (*models.CalendarEvent, error) {
	event, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "calendar event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to get calendar event")
	}
	return event, nil
}

// Create registers a new calendar event.
func (s *CalendarService) Create(ctx context.Context, req dto.CalendarEventRequest, createdBy string) (*models.CalendarEvent, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if !req.EndsAt.After(req.StartsAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "ends_at must be after starts_at")
	}
	event := &models.CalendarEvent{
		Title:       req.Title,
		Description: req.Description,
		Category:    models.CalendarCategory(strings.ToUpper(req.Category)),
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		CreatedBy:   createdBy,
	}
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create calendar event")
	}
	s.invalidate(ctx)
	return event, nil
}

// Update modifies an existing calendar event.
func (s *CalendarService) Update(ctx context.Context, id string, req dto.CalendarEventRequest) (*models.CalendarEvent, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if !req.EndsAt.After(req.StartsAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "ends_at must be after starts_at")
	}
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "calendar event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load calendar event")
	}
	existing.Title = req.Title
	existing.Description = req.Description
	existing.Category = models.CalendarCategory(strings.ToUpper(req.Category))
	existing.StartsAt = req.StartsAt
	existing.EndsAt = req.EndsAt
	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update calendar event")
	}
	s.invalidate(ctx)
	return existing, nil
}

// Delete removes a calendar event.
func (s *CalendarService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete calendar event")
	}
	s.invalidate(ctx)
	return nil
}

func (s *CalendarService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, calendarCachePrefix+":*"); err != nil {
		s.logger.Warn("calendar cache invalidation failed", zap.Error(err))
	}
}
