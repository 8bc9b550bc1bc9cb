package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/service"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
	"github.com/noah-isme/campus-portal-api/pkg/response"
)

type feeService interface {
	ListProgrammes(ctx context.Context) ([]models.Programme, error)
	CreateQuote(ctx context.Context, req dto.CreateFeeQuoteRequest, userID string) (*models.FeeQuote, error)
	GetQuote(ctx context.Context, id string, actor *models.JWTClaims) (*models.FeeQuote, error)
	ListOwnQuotes(ctx context.Context, userID string, limit int) ([]models.FeeQuote, error)
	SignedDownload(ctx context.Context, id string, actor *models.JWTClaims) (*dto.FeeQuoteDownload, error)
	ResolveDownload(ctx context.Context, token string) (*service.FeeQuoteDownload, error)
}

// FeeHandler exposes the programme catalog and fee quote endpoints.
type FeeHandler struct {
	service feeService
}

// NewFeeHandler constructs the handler.
func NewFeeHandler(service feeService) *FeeHandler {
	return &FeeHandler{service: service}
}

// Programmes godoc
// @Summary List active programmes
// @Tags Fees
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /fees/programmes [get]
func (h *FeeHandler) Programmes(c *gin.Context) {
	programmes, err := h.service.ListProgrammes(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, programmes, nil)
}

// CreateQuote godoc
// @Summary Request a fee quote document
// @Tags Fees
// @Accept json
// @Produce json
// @Param payload body dto.CreateFeeQuoteRequest true "Quote payload"
// @Success 202 {object} response.Envelope
// @Router /fees/quotes [post]
func (h *FeeHandler) CreateQuote(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateFeeQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid quote payload"))
		return
	}
	quote, err := h.service.CreateQuote(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, quote, nil)
}

// GetQuote godoc
// @Summary Get fee quote status and breakdown
// @Tags Fees
// @Produce json
// @Param id path string true "Quote ID"
// @Success 200 {object} response.Envelope
// @Router /fees/quotes/{id} [get]
func (h *FeeHandler) GetQuote(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	quote, err := h.service.GetQuote(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quote, nil)
}

// ListQuotes godoc
// @Summary List the caller's fee quotes
// @Tags Fees
// @Produce json
// @Param limit query int false "Max rows"
// @Success 200 {object} response.Envelope
// @Router /fees/quotes [get]
func (h *FeeHandler) ListQuotes(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	quotes, err := h.service.ListOwnQuotes(c.Request.Context(), claims.UserID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quotes, nil)
}

// SignedURL godoc
// @Summary Issue a signed download link for a READY quote
// @Tags Fees
// @Produce json
// @Param id path string true "Quote ID"
// @Success 200 {object} response.Envelope
// @Router /fees/quotes/{id}/download-url [get]
func (h *FeeHandler) SignedURL(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	download, err := h.service.SignedDownload(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, download, nil)
}

// Download godoc
// @Summary Download a quote document via signed token
// @Tags Fees
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Router /fees/downloads/{token} [get]
func (h *FeeHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.service.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	info, err := result.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat quote document"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), "application/pdf", result.File, nil)
}
