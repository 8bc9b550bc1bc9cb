package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/campus-portal-api/internal/middleware"
	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

type authServiceMock struct {
	loginResp    *models.LoginResponse
	loginErr     error
	refreshResp  *models.SessionTokens
	refreshErr   error
	forgotToken  string
	forgotErr    error
	resetErr     error
	currentUser  *models.UserInfo
	currentErr   error
	lastForgot   models.PasswordResetRequest
	lastReset    models.PasswordResetConfirm
	forgotCalled bool
	resetCalled  bool
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	return m.loginResp, m.loginErr
}

func (m *authServiceMock) RefreshToken(ctx context.Context, req models.RefreshTokenRequest) (*models.SessionTokens, error) {
	return m.refreshResp, m.refreshErr
}

func (m *authServiceMock) Logout(ctx context.Context, refreshToken, userID string, meta models.LoginRequest) error {
	return nil
}

func (m *authServiceMock) ChangePassword(ctx context.Context, userID string, req models.ChangePasswordRequest) error {
	return nil
}

func (m *authServiceMock) ForgotPassword(ctx context.Context, req models.PasswordResetRequest) (string, error) {
	m.forgotCalled = true
	m.lastForgot = req
	return m.forgotToken, m.forgotErr
}

func (m *authServiceMock) ResetPassword(ctx context.Context, req models.PasswordResetConfirm) error {
	m.resetCalled = true
	m.lastReset = req
	return m.resetErr
}

func (m *authServiceMock) CurrentUser(ctx context.Context, userID string) (*models.UserInfo, error) {
	return m.currentUser, m.currentErr
}

func postJSON(t *testing.T, w *httptest.ResponseRecorder, path string, payload interface{}) *gin.Context {
	t.Helper()
	c, _ := gin.CreateTestContext(w)
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c
}

func TestAuthHandlerLoginInvalidPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(&authServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(`{"email":`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Login(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandlerForgotPasswordHidesToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &authServiceMock{forgotToken: "raw-reset-token-value"}
	handler := NewAuthHandler(mockSvc)

	w := httptest.NewRecorder()
	c := postJSON(t, w, "/auth/forgot-password", models.PasswordResetRequest{Email: "ada@example.com"})

	handler.ForgotPassword(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, mockSvc.forgotCalled)
	// the raw token is delivered out of band, never in the HTTP body
	assert.NotContains(t, w.Body.String(), "raw-reset-token-value")
}

func TestAuthHandlerForgotPasswordSameBodyForUnknownEmail(t *testing.T) {
	gin.SetMode(gin.TestMode)

	known := httptest.NewRecorder()
	handler := NewAuthHandler(&authServiceMock{forgotToken: "issued-token"})
	handler.ForgotPassword(postJSON(t, known, "/auth/forgot-password", models.PasswordResetRequest{Email: "ada@example.com"}))

	unknown := httptest.NewRecorder()
	handler = NewAuthHandler(&authServiceMock{forgotToken: ""})
	handler.ForgotPassword(postJSON(t, unknown, "/auth/forgot-password", models.PasswordResetRequest{Email: "nobody@example.com"}))

	require.Equal(t, http.StatusAccepted, known.Code)
	require.Equal(t, http.StatusAccepted, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
}

func TestAuthHandlerResetPassword(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &authServiceMock{}
	handler := NewAuthHandler(mockSvc)

	w := httptest.NewRecorder()
	c := postJSON(t, w, "/auth/reset-password", models.PasswordResetConfirm{
		Token:       "some-token",
		NewPassword: "brand-new-pass",
	})

	handler.ResetPassword(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, mockSvc.resetCalled)
	assert.Equal(t, "some-token", mockSvc.lastReset.Token)
}

func TestAuthHandlerResetPasswordInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &authServiceMock{
		resetErr: appErrors.Clone(appErrors.ErrUnauthorized, "reset token is invalid or expired"),
	}
	handler := NewAuthHandler(mockSvc)

	w := httptest.NewRecorder()
	c := postJSON(t, w, "/auth/reset-password", models.PasswordResetConfirm{
		Token:       "stale-token",
		NewPassword: "brand-new-pass",
	})

	handler.ResetPassword(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &authServiceMock{
		currentUser: &models.UserInfo{ID: "user-1", Email: "ada@example.com", Role: models.RoleStudent, ProfileID: "profile-1"},
	}
	handler := NewAuthHandler(mockSvc)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent})
	req, _ := http.NewRequest(http.MethodGet, "/auth/me", nil)
	c.Request = req

	handler.Me(c)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data models.UserInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "profile-1", envelope.Data.ProfileID)
}

func TestAuthHandlerMeUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewAuthHandler(&authServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/auth/me", nil)
	c.Request = req

	handler.Me(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
