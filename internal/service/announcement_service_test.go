package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

type announcementRepoStub struct {
	rows      []models.Announcement
	listCalls int
}

func (r *announcementRepoStub) List(ctx context.Context, filter models.AnnouncementFilter) ([]models.Announcement, int, error) {
	r.listCalls++
	return r.rows, len(r.rows), nil
}

func (r *announcementRepoStub) GetByID(ctx context.Context, id string) (*models.Announcement, error) {
	for i := range r.rows {
		if r.rows[i].ID == id {
			return &r.rows[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *announcementRepoStub) Create(ctx context.Context, announcement *models.Announcement) error {
	if announcement.ID == "" {
		announcement.ID = "ann-1"
	}
	r.rows = append(r.rows, *announcement)
	return nil
}

func (r *announcementRepoStub) Update(ctx context.Context, announcement *models.Announcement) error {
	return nil
}

func (r *announcementRepoStub) Delete(ctx context.Context, id string) error {
	return nil
}

// fakeCache round-trips values through JSON the way the Redis-backed cache
// does.
type fakeCache struct {
	entries     map[string][]byte
	invalidated int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *fakeCache) DeleteByPattern(ctx context.Context, pattern string) error {
	c.invalidated++
	c.entries = make(map[string][]byte)
	return nil
}

func TestAnnouncementFeedUsesCache(t *testing.T) {
	repo := &announcementRepoStub{rows: []models.Announcement{
		{ID: "ann-1", Title: "Exam timetable", Audience: models.AnnouncementAudienceStudents},
	}}
	cache := newFakeCache()
	svc := NewAnnouncementService(repo, cache, time.Minute, nil, nil)

	query := dto.AnnouncementQuery{Audience: "STUDENTS"}

	rows, pagination, err := svc.ListActive(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, pagination.TotalCount)
	require.Equal(t, 1, repo.listCalls)

	// second call is served from cache
	rows, _, err = svc.ListActive(context.Background(), query)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, repo.listCalls)
}

func TestAnnouncementCreateInvalidatesCache(t *testing.T) {
	repo := &announcementRepoStub{}
	cache := newFakeCache()
	svc := NewAnnouncementService(repo, cache, time.Minute, nil, nil)

	_, _, err := svc.ListActive(context.Background(), dto.AnnouncementQuery{Audience: "STUDENTS"})
	require.NoError(t, err)
	require.Len(t, cache.entries, 1)

	_, err = svc.Create(context.Background(), dto.AnnouncementRequest{
		Title:       "Holiday notice",
		Content:     "Campus closes Friday.",
		Audience:    "ALL",
		Priority:    "HIGH",
		PublishedAt: time.Now().UTC(),
	}, "admin-1")
	require.NoError(t, err)
	require.Equal(t, 1, cache.invalidated)
	require.Empty(t, cache.entries)
}

func TestAnnouncementCreateValidation(t *testing.T) {
	svc := NewAnnouncementService(&announcementRepoStub{}, nil, time.Minute, nil, nil)

	_, err := svc.Create(context.Background(), dto.AnnouncementRequest{
		Title:       "Bad audience",
		Content:     "x",
		Audience:    "EVERYONE",
		Priority:    "HIGH",
		PublishedAt: time.Now().UTC(),
	}, "admin-1")
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	published := time.Now().UTC()
	expired := published.Add(-time.Hour)
	_, err = svc.Create(context.Background(), dto.AnnouncementRequest{
		Title:       "Bad window",
		Content:     "x",
		Audience:    "ALL",
		Priority:    "LOW",
		PublishedAt: published,
		ExpiresAt:   &expired,
	}, "admin-1")
	appErr = appErrors.FromError(err)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}
