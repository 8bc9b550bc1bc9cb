package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
	"github.com/noah-isme/campus-portal-api/pkg/export"
	"github.com/noah-isme/campus-portal-api/pkg/jobs"
)

type feeStoreStub struct {
	programmes map[string]*models.Programme
	quotes     map[string]*models.FeeQuote
	readyPath  string
	failReason string
}

func newFeeStoreStub() *feeStoreStub {
	return &feeStoreStub{
		programmes: make(map[string]*models.Programme),
		quotes:     make(map[string]*models.FeeQuote),
	}
}

func (s *feeStoreStub) ListProgrammes(ctx context.Context) ([]models.Programme, error) {
	result := make([]models.Programme, 0, len(s.programmes))
	for _, programme := range s.programmes {
		result = append(result, *programme)
	}
	return result, nil
}

func (s *feeStoreStub) GetProgramme(ctx context.Context, id string) (*models.Programme, error) {
	if programme, ok := s.programmes[id]; ok {
		return programme, nil
	}
	return nil, sql.ErrNoRows
}

func (s *feeStoreStub) CreateQuote(ctx context.Context, quote *models.FeeQuote) error {
	if quote.ID == "" {
		quote.ID = "quote-1"
	}
	s.quotes[quote.ID] = quote
	return nil
}

func (s *feeStoreStub) GetQuote(ctx context.Context, id string) (*models.FeeQuote, error) {
	if quote, ok := s.quotes[id]; ok {
		copy := *quote
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *feeStoreStub) ListQuotesByRequester(ctx context.Context, userID string, limit int) ([]models.FeeQuote, error) {
	result := make([]models.FeeQuote, 0, len(s.quotes))
	for _, quote := range s.quotes {
		if quote.RequestedBy == userID {
			result = append(result, *quote)
		}
	}
	return result, nil
}

func (s *feeStoreStub) MarkQuoteReady(ctx context.Context, id, filePath string) error {
	quote, ok := s.quotes[id]
	if !ok || quote.Status != models.FeeQuoteStatusPending {
		return sql.ErrNoRows
	}
	quote.Status = models.FeeQuoteStatusReady
	quote.FilePath = &filePath
	s.readyPath = filePath
	return nil
}

func (s *feeStoreStub) MarkQuoteFailed(ctx context.Context, id, reason string) error {
	if quote, ok := s.quotes[id]; ok {
		quote.Status = models.FeeQuoteStatusFailed
		quote.FailureReason = &reason
	}
	s.failReason = reason
	return nil
}

type dispatcherStub struct {
	jobs []jobs.Job
	err  error
}

func (d *dispatcherStub) Enqueue(job jobs.Job) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

type rendererStub struct {
	err      error
	rendered []export.Dataset
}

func (r *rendererStub) Render(data export.Dataset, title string) ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.rendered = append(r.rendered, data)
	return []byte("%PDF-1.4"), nil
}

type memoryDocumentStore struct {
	saved map[string][]byte
}

func newMemoryDocumentStore() *memoryDocumentStore {
	return &memoryDocumentStore{saved: make(map[string][]byte)}
}

func (m *memoryDocumentStore) Save(filename string, data []byte) (string, error) {
	m.saved[filename] = data
	return filename, nil
}

func (m *memoryDocumentStore) Open(filename string) (*os.File, error) {
	return nil, os.ErrNotExist
}

func testProgramme() *models.Programme {
	return &models.Programme{
		ID:              "prog-1",
		Code:            "CS-BSC",
		Name:            "Computer Science",
		Terms:           6,
		TuitionPerTerm:  200000,
		RegistrationFee: 25000,
		Active:          true,
	}
}

func TestComputeQuote(t *testing.T) {
	programme := testProgramme()
	cases := []struct {
		name    string
		percent int
		want    QuoteTotals
	}{
		{
			name:    "no scholarship",
			percent: 0,
			want:    QuoteTotals{TuitionTotal: 1200000, RegistrationFee: 25000, Discount: 0, TotalPayable: 1225000},
		},
		{
			name:    "half scholarship",
			percent: 50,
			want:    QuoteTotals{TuitionTotal: 1200000, RegistrationFee: 25000, Discount: 600000, TotalPayable: 625000},
		},
		{
			name:    "full scholarship still pays registration",
			percent: 100,
			want:    QuoteTotals{TuitionTotal: 1200000, RegistrationFee: 25000, Discount: 1200000, TotalPayable: 25000},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ComputeQuote(programme, tc.percent))
		})
	}
}

func TestCreateQuoteEnqueuesRendering(t *testing.T) {
	store := newFeeStoreStub()
	store.programmes["prog-1"] = testProgramme()
	dispatcher := &dispatcherStub{}
	svc := NewFeeService(store, dispatcher, nil, nil, nil)

	quote, err := svc.CreateQuote(context.Background(), dto.CreateFeeQuoteRequest{
		ProgrammeID:        "prog-1",
		ScholarshipPercent: 25,
	}, "user-1")
	require.NoError(t, err)
	require.Equal(t, models.FeeQuoteStatusPending, quote.Status)
	require.Equal(t, int64(300000), quote.Discount)
	require.Len(t, dispatcher.jobs, 1)
	require.Equal(t, quote.ID, dispatcher.jobs[0].ID)
}

func TestCreateQuoteInactiveProgramme(t *testing.T) {
	store := newFeeStoreStub()
	programme := testProgramme()
	programme.Active = false
	store.programmes[programme.ID] = programme
	svc := NewFeeService(store, &dispatcherStub{}, nil, nil, nil)

	_, err := svc.CreateQuote(context.Background(), dto.CreateFeeQuoteRequest{ProgrammeID: "prog-1"}, "user-1")
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestCreateQuoteEnqueueFailureMarksFailed(t *testing.T) {
	store := newFeeStoreStub()
	store.programmes["prog-1"] = testProgramme()
	dispatcher := &dispatcherStub{err: errors.New("queue closed")}
	svc := NewFeeService(store, dispatcher, nil, nil, nil)

	_, err := svc.CreateQuote(context.Background(), dto.CreateFeeQuoteRequest{ProgrammeID: "prog-1"}, "user-1")
	require.Error(t, err)
	require.NotEmpty(t, store.failReason)
}

func TestFeeQuoteWorkerHandle(t *testing.T) {
	store := newFeeStoreStub()
	store.programmes["prog-1"] = testProgramme()
	store.quotes["quote-1"] = &models.FeeQuote{
		ID:           "quote-1",
		ProgrammeID:  "prog-1",
		RequestedBy:  "user-1",
		TuitionTotal: 1200000,
		TotalPayable: 1225000,
		Status:       models.FeeQuoteStatusPending,
	}
	renderer := &rendererStub{}
	docs := newMemoryDocumentStore()
	worker := NewFeeQuoteWorker(store, renderer, docs, 3, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "quote-1", Type: feeQuoteJobType, Attempt: 1})
	require.NoError(t, err)
	require.Equal(t, models.FeeQuoteStatusReady, store.quotes["quote-1"].Status)
	require.Equal(t, "fee_quote_quote-1.pdf", store.readyPath)
	require.Len(t, renderer.rendered, 1)
}

func TestFeeQuoteWorkerSkipsTerminalQuote(t *testing.T) {
	store := newFeeStoreStub()
	store.quotes["quote-1"] = &models.FeeQuote{
		ID:     "quote-1",
		Status: models.FeeQuoteStatusReady,
	}
	renderer := &rendererStub{}
	worker := NewFeeQuoteWorker(store, renderer, newMemoryDocumentStore(), 3, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "quote-1", Attempt: 1})
	require.NoError(t, err)
	require.Empty(t, renderer.rendered)
}

func TestFeeQuoteWorkerFinalAttemptMarksFailed(t *testing.T) {
	store := newFeeStoreStub()
	store.programmes["prog-1"] = testProgramme()
	store.quotes["quote-1"] = &models.FeeQuote{
		ID:          "quote-1",
		ProgrammeID: "prog-1",
		Status:      models.FeeQuoteStatusPending,
	}
	renderer := &rendererStub{err: errors.New("font missing")}
	worker := NewFeeQuoteWorker(store, renderer, newMemoryDocumentStore(), 3, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "quote-1", Attempt: 2})
	require.Error(t, err)
	require.Equal(t, models.FeeQuoteStatusPending, store.quotes["quote-1"].Status)

	err = worker.Handle(context.Background(), jobs.Job{ID: "quote-1", Attempt: 3})
	require.Error(t, err)
	require.Equal(t, models.FeeQuoteStatusFailed, store.quotes["quote-1"].Status)
}

func TestGetQuoteScopesStudents(t *testing.T) {
	store := newFeeStoreStub()
	store.quotes["quote-1"] = &models.FeeQuote{ID: "quote-1", RequestedBy: "user-1"}
	svc := NewFeeService(store, &dispatcherStub{}, nil, nil, nil)

	_, err := svc.GetQuote(context.Background(), "quote-1", &models.JWTClaims{
		UserID: "user-2",
		Role:   models.RoleStudent,
	})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	quote, err := svc.GetQuote(context.Background(), "quote-1", &models.JWTClaims{
		UserID: "admin-1",
		Role:   models.RoleAdmin,
	})
	require.NoError(t, err)
	require.Equal(t, "quote-1", quote.ID)
}

func TestSignedDownloadRequiresReadyQuote(t *testing.T) {
	store := newFeeStoreStub()
	store.quotes["quote-1"] = &models.FeeQuote{
		ID:          "quote-1",
		RequestedBy: "user-1",
		Status:      models.FeeQuoteStatusPending,
	}
	svc := NewFeeService(store, &dispatcherStub{}, nil, nil, nil)

	_, err := svc.SignedDownload(context.Background(), "quote-1", &models.JWTClaims{
		UserID: "user-1",
		Role:   models.RoleStudent,
	})
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
}
