package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
	"github.com/noah-isme/campus-portal-api/pkg/export"
	"github.com/noah-isme/campus-portal-api/pkg/jobs"
	"github.com/noah-isme/campus-portal-api/pkg/storage"
)

const feeQuoteJobType = "fee_quote_render"

type feeStore interface {
	ListProgrammes(ctx context.Context) ([]models.Programme, error)
	GetProgramme(ctx context.Context, id string) (*models.Programme, error)
	CreateQuote(ctx context.Context, quote *models.FeeQuote) error
	GetQuote(ctx context.Context, id string) (*models.FeeQuote, error)
	ListQuotesByRequester(ctx context.Context, userID string, limit int) ([]models.FeeQuote, error)
	MarkQuoteReady(ctx context.Context, id, filePath string) error
	MarkQuoteFailed(ctx context.Context, id, reason string) error
}

type quoteDispatcher interface {
	Enqueue(job jobs.Job) error
}

type documentRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type documentStore interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

// QuoteTotals is the deterministic fee breakdown for a programme and
// scholarship tier.
type QuoteTotals struct {
	TuitionTotal    int64
	RegistrationFee int64
	Discount        int64
	TotalPayable    int64
}

// ComputeQuote derives the fee breakdown. The scholarship discount applies to
// tuition only; the registration fee is always payable in full.
func ComputeQuote(programme *models.Programme, scholarshipPercent int) QuoteTotals {
	tuition := programme.TuitionPerTerm * int64(programme.Terms)
	discount := tuition * int64(scholarshipPercent) / 100
	return QuoteTotals{
		TuitionTotal:    tuition,
		RegistrationFee: programme.RegistrationFee,
		Discount:        discount,
		TotalPayable:    tuition - discount + programme.RegistrationFee,
	}
}

// FeeQuoteDownload aggregates resolved download data.
type FeeQuoteDownload struct {
	File      *os.File
	Filename  string
	ExpiresAt time.Time
}

// FeeService serves the programme catalog and the asynchronous fee quote
// pipeline: quotes are computed synchronously, the PDF document is rendered by
// background workers.
type FeeService struct {
	fees    feeStore
	queue   quoteDispatcher
	signer  *storage.SignedURLSigner
	storage documentStore
	logger  *zap.Logger
}

// NewFeeService constructs the service.
func NewFeeService(fees feeStore, queue quoteDispatcher, signer *storage.SignedURLSigner, store documentStore, logger *zap.Logger) *FeeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeeService{fees: fees, queue: queue, signer: signer, storage: store, logger: logger}
}

// ListProgrammes returns the active programme catalog.
func (s *FeeService) ListProgrammes(ctx context.Context) ([]models.Programme, error) {
	programmes, err := s.fees.ListProgrammes(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list programmes")
	}
	return programmes, nil
}

// CreateQuote computes the breakdown, persists a PENDING quote, and enqueues
// document rendering.
func (s *FeeService) CreateQuote(ctx context.Context, req dto.CreateFeeQuoteRequest, userID string) (*models.FeeQuote, error) {
	if req.ScholarshipPercent < 0 || req.ScholarshipPercent > 100 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "scholarship_percent must be between 0 and 100")
	}
	programme, err := s.fees.GetProgramme(ctx, req.ProgrammeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "programme not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load programme")
	}
	if !programme.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "programme is not accepting applications")
	}

	totals := ComputeQuote(programme, req.ScholarshipPercent)
	quote := &models.FeeQuote{
		ProgrammeID:        programme.ID,
		RequestedBy:        userID,
		ScholarshipPercent: req.ScholarshipPercent,
		TuitionTotal:       totals.TuitionTotal,
		RegistrationFee:    totals.RegistrationFee,
		Discount:           totals.Discount,
		TotalPayable:       totals.TotalPayable,
		Status:             models.FeeQuoteStatusPending,
	}
	if err := s.fees.CreateQuote(ctx, quote); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create fee quote")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: quote.ID, Type: feeQuoteJobType}); err != nil {
		if markErr := s.fees.MarkQuoteFailed(ctx, quote.ID, "failed to enqueue rendering"); markErr != nil {
			s.logger.Warn("failed to mark quote failed", zap.String("quote_id", quote.ID), zap.Error(markErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue fee quote")
	}
	return quote, nil
}

// GetQuote returns one quote enforcing ownership for students.
func (s *FeeService) GetQuote(ctx context.Context, id string, actor *models.JWTClaims) (*models.FeeQuote, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	quote, err := s.fees.GetQuote(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee quote")
	}
	if actor.Role == models.RoleStudent && quote.RequestedBy != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return quote, nil
}

// ListOwnQuotes returns the caller's quotes, newest first.
func (s *FeeService) ListOwnQuotes(ctx context.Context, userID string, limit int) ([]models.FeeQuote, error) {
	quotes, err := s.fees.ListQuotesByRequester(ctx, userID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list fee quotes")
	}
	return quotes, nil
}

// SignedDownload issues a short-lived download link for a READY quote.
func (s *FeeService) SignedDownload(ctx context.Context, id string, actor *models.JWTClaims) (*dto.FeeQuoteDownload, error) {
	quote, err := s.GetQuote(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if quote.Status != models.FeeQuoteStatusReady || quote.FilePath == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "quote document is not ready")
	}
	token, expiresAt, err := s.signer.Generate(quote.ID, *quote.FilePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}
	return &dto.FeeQuoteDownload{
		URL:       fmt.Sprintf("/api/v1/fees/downloads/%s", token),
		ExpiresAt: expiresAt.Unix(),
	}, nil
}

// ResolveDownload validates a token and opens the stored quote document.
func (s *FeeService) ResolveDownload(ctx context.Context, token string) (*FeeQuoteDownload, error) {
	quoteID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	quote, err := s.fees.GetQuote(ctx, quoteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load fee quote")
	}
	if quote.Status != models.FeeQuoteStatusReady || quote.FilePath == nil || *quote.FilePath != relPath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open quote document")
	}
	return &FeeQuoteDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		ExpiresAt: expiresAt,
	}, nil
}

// FeeQuoteWorker renders quote documents off the queue.
type FeeQuoteWorker struct {
	fees       feeStore
	renderer   documentRenderer
	storage    documentStore
	maxRetries int
	logger     *zap.Logger
}

// NewFeeQuoteWorker constructs a worker.
func NewFeeQuoteWorker(fees feeStore, renderer documentRenderer, store documentStore, maxRetries int, logger *zap.Logger) *FeeQuoteWorker {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeeQuoteWorker{fees: fees, renderer: renderer, storage: store, maxRetries: maxRetries, logger: logger}
}

// Handle renders and stores the document for one quote. The final failed
// attempt marks the quote FAILED so clients stop polling.
func (w *FeeQuoteWorker) Handle(ctx context.Context, job jobs.Job) error {
	quote, err := w.fees.GetQuote(ctx, job.ID)
	if err != nil {
		return err
	}
	if quote.Status != models.FeeQuoteStatusPending {
		return nil
	}
	programme, err := w.fees.GetProgramme(ctx, quote.ProgrammeID)
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("load programme: %w", err))
	}

	data := export.Dataset{
		Headers: []string{"Item", "Amount"},
		Rows: []map[string]string{
			{"Item": fmt.Sprintf("Tuition (%d terms)", programme.Terms), "Amount": formatAmount(quote.TuitionTotal)},
			{"Item": fmt.Sprintf("Scholarship discount (%d%%)", quote.ScholarshipPercent), "Amount": "-" + formatAmount(quote.Discount)},
			{"Item": "Registration fee", "Amount": formatAmount(quote.RegistrationFee)},
			{"Item": "Total payable", "Amount": formatAmount(quote.TotalPayable)},
		},
	}
	document, err := w.renderer.Render(data, fmt.Sprintf("Fee Quote - %s", programme.Name))
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("render quote: %w", err))
	}

	filename := fmt.Sprintf("fee_quote_%s.pdf", quote.ID)
	relPath, err := w.storage.Save(filename, document)
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("store quote: %w", err))
	}
	if err := w.fees.MarkQuoteReady(ctx, quote.ID, relPath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return w.fail(ctx, job, fmt.Errorf("mark quote ready: %w", err))
	}
	return nil
}

func (w *FeeQuoteWorker) fail(ctx context.Context, job jobs.Job, err error) error {
	if job.Attempt >= w.maxRetries {
		if markErr := w.fees.MarkQuoteFailed(ctx, job.ID, err.Error()); markErr != nil {
			w.logger.Warn("failed to mark quote failed", zap.String("quote_id", job.ID), zap.Error(markErr))
		}
	}
	return err
}

func formatAmount(v int64) string {
	return fmt.Sprintf("%d.00", v)
}
