package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/campus-portal-api/internal/models"
	appErrors "github.com/noah-isme/campus-portal-api/pkg/errors"
)

type mockAuthRepo struct {
	userByEmail      *models.User
	userByID         *models.User
	refreshTokens    map[string]*models.RefreshToken
	resetTokens      map[string]*models.PasswordResetToken
	auditLogs        []*models.AuditLog
	revokeAllCalls   int
	lastLoginUpdated bool
	createRefreshErr error
}

func newMockAuthRepo() *mockAuthRepo {
	return &mockAuthRepo{
		refreshTokens: make(map[string]*models.RefreshToken),
		resetTokens:   make(map[string]*models.PasswordResetToken),
	}
}

func (m *mockAuthRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.userByEmail == nil || m.userByEmail.Email != email {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAuthRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.userByID != nil && m.userByID.ID == id {
		return m.userByID, nil
	}
	if m.userByEmail != nil && m.userByEmail.ID == id {
		return m.userByEmail, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginUpdated = true
	return nil
}

func (m *mockAuthRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if m.userByEmail != nil && m.userByEmail.ID == id {
		m.userByEmail.PasswordHash = passwordHash
	}
	return nil
}

func (m *mockAuthRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	m.revokeAllCalls++
	for _, token := range m.refreshTokens {
		if token.UserID == userID {
			token.Revoked = true
		}
	}
	return nil
}

func (m *mockAuthRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if m.createRefreshErr != nil {
		return m.createRefreshErr
	}
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAuthRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAuthRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range m.refreshTokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockAuthRepo) CreatePasswordResetToken(ctx context.Context, token *models.PasswordResetToken) error {
	m.resetTokens[token.TokenHash] = token
	return nil
}

func (m *mockAuthRepo) FindPasswordResetToken(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	token, ok := m.resetTokens[tokenHash]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return token, nil
}

func (m *mockAuthRepo) ConsumePasswordResetToken(ctx context.Context, id string, usedAt time.Time) error {
	for _, token := range m.resetTokens {
		if token.ID == id {
			if token.UsedAt != nil {
				return sql.ErrNoRows
			}
			token.UsedAt = &usedAt
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *mockAuthRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type authProfileStub struct {
	profile *models.StudentProfile
}

func (s *authProfileStub) FindByUserID(ctx context.Context, userID string) (*models.StudentProfile, error) {
	if s.profile != nil && s.profile.UserID == userID {
		return s.profile, nil
	}
	return nil, sql.ErrNoRows
}

func newAuthService(repo *mockAuthRepo, profiles authProfileLookup) *AuthService {
	return NewAuthService(repo, profiles, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: 24 * time.Hour,
		ResetTokenExpiry:   30 * time.Minute,
		Issuer:             "campus-portal-api",
	})
}

func activeUser(role models.UserRole, password string) *models.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return &models.User{
		ID:           "u1",
		Email:        "user@example.com",
		PasswordHash: string(hash),
		FullName:     "Ada Lovelace",
		Role:         role,
		Active:       true,
	}
}

func TestAuthServiceLoginSuccess(t *testing.T) {
	repo := newMockAuthRepo()
	repo.userByEmail = activeUser(models.RoleAdmin, "password")
	svc := newAuthService(repo, nil)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	assert.True(t, repo.lastLoginUpdated)
	assert.NotEmpty(t, repo.refreshTokens)
	assert.Empty(t, res.User.ProfileID)
}

func TestAuthServiceLoginInactive(t *testing.T) {
	repo := newMockAuthRepo()
	repo.userByEmail = activeUser(models.RoleStudent, "password")
	repo.userByEmail.Active = false
	svc := newAuthService(repo, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErr.Code)
}

func TestAuthServiceStudentSingleSession(t *testing.T) {
	repo := newMockAuthRepo()
	repo.userByEmail = activeUser(models.RoleStudent, "password")
	svc := newAuthService(repo, nil)

	first, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	// a second student login closes the first session
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.revokeAllCalls)
	assert.True(t, repo.refreshTokens[first.RefreshToken].Revoked)
}

func TestAuthServiceStaffConcurrentSessions(t *testing.T) {
	repo := newMockAuthRepo()
	repo.userByEmail = activeUser(models.RoleAdmin, "password")
	svc := newAuthService(repo, nil)

	first, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	assert.Zero(t, repo.revokeAllCalls)
	assert.False(t, repo.refreshTokens[first.RefreshToken].Revoked)
}

func TestAuthServiceStudentClaimsCarryProfile(t *testing.T) {
	repo := newMockAuthRepo()
	repo.userByEmail = activeUser(models.RoleStudent, "password")
	profiles := &authProfileStub{profile: &models.StudentProfile{ID: "profile-1", UserID: "u1"}}
	svc := newAuthService(repo, profiles)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)
	assert.Equal(t, "profile-1", res.User.ProfileID)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "profile-1", claims.ProfileID)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	repo := newMockAuthRepo()
	user := activeUser(models.RoleAdmin, "password")
	repo.userByEmail = user
	repo.refreshTokens["token"] = &models.RefreshToken{ID: "rt1", UserID: user.ID, Token: "token", ExpiresAt: time.Now().Add(time.Hour)}
	svc := newAuthService(repo, nil)

	res, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AccessToken)
	assert.NotEqual(t, "token", res.RefreshToken)
	assert.True(t, repo.refreshTokens["token"].Revoked)
}

func TestAuthServiceRefreshRejectsRevoked(t *testing.T) {
	repo := newMockAuthRepo()
	repo.userByEmail = activeUser(models.RoleAdmin, "password")
	repo.refreshTokens["token"] = &models.RefreshToken{ID: "rt1", UserID: "u1", Token: "token", ExpiresAt: time.Now().Add(time.Hour), Revoked: true}
	svc := newAuthService(repo, nil)

	_, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: "token"})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestAuthServiceChangePassword(t *testing.T) {
	repo := newMockAuthRepo()
	repo.userByEmail = activeUser(models.RoleStudent, "old-password")
	oldHash := repo.userByEmail.PasswordHash
	svc := newAuthService(repo, nil)

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{OldPassword: "old-password", NewPassword: "new-password"})
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, repo.userByEmail.PasswordHash)
	assert.Equal(t, 1, repo.revokeAllCalls)
}

func TestPasswordResetFlow(t *testing.T) {
	repo := newMockAuthRepo()
	repo.userByEmail = activeUser(models.RoleStudent, "old-password")
	oldHash := repo.userByEmail.PasswordHash
	svc := newAuthService(repo, nil)

	raw, err := svc.ForgotPassword(context.Background(), models.PasswordResetRequest{Email: "user@example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.Len(t, repo.resetTokens, 1)
	for _, token := range repo.resetTokens {
		// only the hash is stored
		assert.NotEqual(t, raw, token.TokenHash)
	}

	err = svc.ResetPassword(context.Background(), models.PasswordResetConfirm{Token: raw, NewPassword: "brand-new-pass"})
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, repo.userByEmail.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.userByEmail.PasswordHash), []byte("brand-new-pass")))
	assert.Equal(t, 1, repo.revokeAllCalls)

	// tokens are single use
	err = svc.ResetPassword(context.Background(), models.PasswordResetConfirm{Token: raw, NewPassword: "another-pass-1"})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	repo := newMockAuthRepo()
	svc := newAuthService(repo, nil)

	raw, err := svc.ForgotPassword(context.Background(), models.PasswordResetRequest{Email: "nobody@example.com"})
	require.NoError(t, err)
	assert.Empty(t, raw)
	assert.Empty(t, repo.resetTokens)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	repo := newMockAuthRepo()
	repo.userByEmail = activeUser(models.RoleStudent, "old-password")
	svc := newAuthService(repo, nil)

	raw, err := svc.ForgotPassword(context.Background(), models.PasswordResetRequest{Email: "user@example.com"})
	require.NoError(t, err)
	for _, token := range repo.resetTokens {
		token.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	}

	err = svc.ResetPassword(context.Background(), models.PasswordResetConfirm{Token: raw, NewPassword: "brand-new-pass"})
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErr.Code)
}

func TestCurrentUser(t *testing.T) {
	repo := newMockAuthRepo()
	repo.userByEmail = activeUser(models.RoleStudent, "password")
	profiles := &authProfileStub{profile: &models.StudentProfile{ID: "profile-1", UserID: "u1"}}
	svc := newAuthService(repo, profiles)

	info, err := svc.CurrentUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", info.Email)
	assert.Equal(t, "profile-1", info.ProfileID)
}

func TestValidateToken(t *testing.T) {
	repo := newMockAuthRepo()
	repo.userByEmail = activeUser(models.RoleAdmin, "password")
	svc := newAuthService(repo, nil)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestValidateTokenRejectsForeignIssuer(t *testing.T) {
	repo := newMockAuthRepo()
	repo.userByEmail = activeUser(models.RoleAdmin, "password")
	foreign := NewAuthService(repo, nil, validator.New(), zap.NewNop(), AuthConfig{
		AccessTokenSecret:  "secret",
		AccessTokenExpiry:  time.Hour,
		RefreshTokenExpiry: time.Hour,
		Issuer:             "some-other-service",
	})

	res, err := foreign.Login(context.Background(), models.LoginRequest{Email: "user@example.com", Password: "password"})
	require.NoError(t, err)

	svc := newAuthService(repo, nil)
	_, err = svc.ValidateToken(res.AccessToken)
	require.Error(t, err)
}
