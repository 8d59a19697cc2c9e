package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"consultancy/api/internal/config"
	"consultancy/api/internal/middleware"
	"consultancy/api/internal/models"
	"consultancy/api/internal/repository/memstore"
	"consultancy/api/internal/security"
	"consultancy/api/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type outbox struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (o *outbox) put(kind, token string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tokens == nil {
		o.tokens = make(map[string]string)
	}
	o.tokens[kind] = token
}

func (o *outbox) token(kind string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tokens[kind]
}

func (o *outbox) SendVerification(_ context.Context, _ string, _ string, token string) {
	o.put("verify", token)
}

func (o *outbox) SendPasswordReset(_ context.Context, _ string, _ string, token string) {
	o.put("reset", token)
}

func (o *outbox) SendPasswordChanged(context.Context, string, string) {}

type testServer struct {
	router *gin.Engine
	store  *memstore.Store
	mail   *outbox
}

type serverOption func(*Deps)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()

	secCfg := config.SecurityConfig{
		JWTAccessSecret: "access-secret",
		JWTAccessTTL:    15 * time.Minute,
		JWTRefreshTTL:   24 * time.Hour,
		MFATokenTTL:     5 * time.Minute,
		MaxSessions:     5,
		VerificationTTL: time.Hour,
		ResetTTL:        time.Hour,
	}
	codec, err := security.NewTokenCodec(security.TokenCodecConfig{
		AccessSecret: secCfg.JWTAccessSecret,
		AccessTTL:    secCfg.JWTAccessTTL,
		RefreshTTL:   secCfg.JWTRefreshTTL,
		MFATTL:       secCfg.MFATokenTTL,
	})
	require.NoError(t, err)
	hasher, err := security.NewPasswordHasher(bcrypt.MinCost, 4)
	require.NoError(t, err)

	store := memstore.New()
	mail := &outbox{}
	auth := service.NewAuthService(service.AuthDeps{
		Users:    store.Users(),
		Sessions: store.Sessions(),
		Tokens:   store.Tokens(),
		Tx:       memstore.TxRunner{},
		Codec:    codec,
		Hasher:   hasher,
		TOTP:     security.NewTOTP("Consultancy"),
		Replay:   &memstore.ReplayGuard{},
		Mailer:   mail,
		Log:      zerolog.Nop(),
	}, secCfg)
	admin := service.NewAdminService(store.Users(), store.Sessions(), memstore.TxRunner{}, zerolog.Nop())

	deps := Deps{
		Log:         zerolog.Nop(),
		Environment: "test",
		Auth:        auth,
		Admin:       admin,
		Tokens:      codec,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	router := gin.New()
	NewHandlerSet(deps).Register(router.Group("/api"))
	return &testServer{router: router, store: store, mail: mail}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

// signup registers and verifies an account, then logs it in.
func (s *testServer) signup(t *testing.T, email, password string) (userID, access, refresh string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{"email": email, "password": password, "firstName": "Alice", "lastName": "Smith"}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	userID = decode(t, rec)["userId"].(string)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/verify-email", gin.H{"token": s.mail.token("verify")}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	access, refresh = s.login(t, email, password)
	return userID, access, refresh
}

func (s *testServer) login(t *testing.T, email, password string) (string, string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"email": email, "password": password}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	return body["accessToken"].(string), body["refreshToken"].(string)
}

func TestRegisterVerifyLoginRefreshLogout(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{
		"email":     "alice@x.io",
		"password":  "hunter22!",
		"firstName": "Alice",
		"lastName":  "Smith",
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.NotEmpty(t, body["userId"])
	assert.NotEmpty(t, body["message"])
	assert.NotContains(t, body, "accessToken")

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "alice@x.io", "password": "hunter22!"}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ACCOUNT_INACTIVE", decode(t, rec)["code"])

	verifyToken := s.mail.token("verify")
	rec = s.do(t, http.MethodPost, "/api/v1/auth/verify-email", gin.H{"token": verifyToken}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice@x.io", decode(t, rec)["email"])

	rec = s.do(t, http.MethodPost, "/api/v1/auth/verify-email", gin.H{"token": verifyToken}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", decode(t, rec)["code"])

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "alice@x.io", "password": "hunter22!"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	access := body["accessToken"].(string)
	refresh := body["refreshToken"].(string)
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice@x.io", user["email"])
	assert.Equal(t, "client", user["role"])
	assert.NotContains(t, user, "passwordHash")

	rec = s.do(t, http.MethodGet, "/api/v1/auth/me", nil, access)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": refresh}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["accessToken"])

	rec = s.do(t, http.MethodPost, "/api/v1/auth/logout", gin.H{"refreshToken": refresh}, access)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", decode(t, rec)["code"])
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "alice@x.io", "hunter22!")

	wrongPassword := s.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "alice@x.io", "password": "nope-nope"}, "")
	unknownEmail := s.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "bob@x.io", "password": "nope-nope"}, "")

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, wrongPassword.Code, unknownEmail.Code)
	assert.JSONEq(t, wrongPassword.Body.String(), unknownEmail.Body.String())
	assert.Equal(t, "INVALID_CREDENTIALS", decode(t, wrongPassword)["code"])
}

func TestRegisterRejectsInvalidInputAndDuplicates(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{"email": "not-an-email", "password": "short"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errs := decode(t, rec)["errors"].([]any)
	assert.Contains(t, errs, "email must be a valid email address")
	assert.Contains(t, errs, "password must be at least 8 characters")

	rec = s.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{"email": "alice@x.io", "password": "hunter22!", "firstName": "Alice", "lastName": "Smith"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{"email": "Alice@X.io", "password": "another-one", "firstName": "Al", "lastName": "S"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "USER_EXISTS", decode(t, rec)["code"])
}

func TestRegisterRequiresBothNames(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{"email": "nameless@x.io", "password": "hunter22!"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errs := decode(t, rec)["errors"].([]any)
	assert.Contains(t, errs, "firstName is required")
	assert.Contains(t, errs, "lastName is required")

	rec = s.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{"email": "nameless@x.io", "password": "hunter22!", "firstName": "Alice"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []any{"lastName is required"}, decode(t, rec)["errors"])

	rec = s.do(t, http.MethodPost, "/api/v1/auth/register", gin.H{"email": "nameless@x.io", "password": "hunter22!", "firstName": "   ", "lastName": "Smith"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []any{"firstName is required"}, decode(t, rec)["errors"])

	assert.Zero(t, s.store.UserCount())
}

func TestMalformedBodyIsRejected(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["errors"])
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, _, refresh := s.signup(t, "alice@x.io", "hunter22!")
	rec = s.do(t, http.MethodGet, "/api/v1/auth/me", nil, refresh)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", decode(t, rec)["code"])
}

func TestLogoutWithoutBodyEndsAllSessions(t *testing.T) {
	s := newTestServer(t)
	_, access, refresh := s.signup(t, "alice@x.io", "hunter22!")
	_, otherRefresh := s.login(t, "alice@x.io", "hunter22!")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/logout", nil, access)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, token := range []string{refresh, otherRefresh} {
		rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": token}, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestRefreshAfterSessionExpiry(t *testing.T) {
	s := newTestServer(t)
	userID, _, refresh := s.signup(t, "alice@x.io", "hunter22!")

	s.store.ExpireSessions(userID)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", decode(t, rec)["code"])
}

func TestSessionsListAndRevoke(t *testing.T) {
	s := newTestServer(t)
	_, access, _ := s.signup(t, "alice@x.io", "hunter22!")
	s.login(t, "alice@x.io", "hunter22!")

	rec := s.do(t, http.MethodGet, "/api/v1/auth/sessions", nil, access)
	require.Equal(t, http.StatusOK, rec.Code)
	sessions := decode(t, rec)["sessions"].([]any)
	require.Len(t, sessions, 2)

	var other string
	for _, raw := range sessions {
		session := raw.(map[string]any)
		if session["current"] == false {
			other = session["id"].(string)
		}
	}
	require.NotEmpty(t, other)

	rec = s.do(t, http.MethodDelete, "/api/v1/auth/sessions/"+other, nil, access)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/auth/sessions/"+other, nil, access)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec)["code"])
}

func TestPasswordResetEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.signup(t, "alice@x.io", "hunter22!")

	known := s.do(t, http.MethodPost, "/api/v1/auth/request-password-reset", gin.H{"email": "alice@x.io"}, "")
	unknown := s.do(t, http.MethodPost, "/api/v1/auth/request-password-reset", gin.H{"email": "ghost@x.io"}, "")
	require.Equal(t, http.StatusOK, known.Code)
	assert.Equal(t, known.Code, unknown.Code)
	assert.JSONEq(t, known.Body.String(), unknown.Body.String())

	resetToken := s.mail.token("reset")
	require.NotEmpty(t, resetToken)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/reset-password", gin.H{"token": resetToken, "newPassword": "short"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["errors"], "password must be at least 8 characters")

	rec = s.do(t, http.MethodPost, "/api/v1/auth/reset-password", gin.H{"token": resetToken, "newPassword": "brand-new-pass"}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/reset-password", gin.H{"token": resetToken, "newPassword": "brand-new-pass"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", decode(t, rec)["code"])

	s.login(t, "alice@x.io", "brand-new-pass")
}

func TestMFASetupRequiresSixDigitCode(t *testing.T) {
	s := newTestServer(t)
	_, access, _ := s.signup(t, "alice@x.io", "hunter22!")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/mfa/setup", nil, access)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.NotEmpty(t, body["secret"])
	assert.Contains(t, body["otpauthUrl"], "otpauth://totp/")

	rec = s.do(t, http.MethodPost, "/api/v1/auth/mfa/enable", gin.H{"code": "12ab"}, access)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/mfa/disable", gin.H{"code": "123456"}, access)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MFA_NOT_ENABLED", decode(t, rec)["code"])
}

func TestExportWithoutObjectStore(t *testing.T) {
	s := newTestServer(t)
	_, access, _ := s.signup(t, "alice@x.io", "hunter22!")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/me/export", nil, access)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "EXPORT_UNAVAILABLE", decode(t, rec)["code"])
}

func TestEraseAccount(t *testing.T) {
	s := newTestServer(t)
	userID, access, _ := s.signup(t, "alice@x.io", "hunter22!")

	rec := s.do(t, http.MethodDelete, "/api/v1/auth/me", gin.H{"password": "wrong-password"}, access)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/auth/me", gin.H{"password": "hunter22!"}, access)
	require.Equal(t, http.StatusOK, rec.Code)

	user, ok := s.store.User(userID)
	require.True(t, ok)
	assert.Equal(t, models.UserStatusDeleted, user.Status)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	s := newTestServer(t)
	adminID, clientAccess, _ := s.signup(t, "admin@x.io", "hunter22!")
	targetID, _, _ := s.signup(t, "bob@x.io", "hunter22!")

	rec := s.do(t, http.MethodGet, "/api/v1/admin/stats", nil, clientAccess)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decode(t, rec)["code"])

	s.store.SetRole(adminID, models.UserRoleAdmin)
	adminAccess, _ := s.login(t, "admin@x.io", "hunter22!")

	rec = s.do(t, http.MethodGet, "/api/v1/admin/stats", nil, adminAccess)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["totalUsers"])

	rec = s.do(t, http.MethodGet, "/api/v1/admin/users?page=1&perPage=1", nil, adminAccess)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode(t, rec)
	assert.EqualValues(t, 2, page["total"])
	assert.Len(t, page["users"], 1)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/users?perPage=500", nil, adminAccess)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/admin/users/"+targetID+"/status", gin.H{"status": "deleted"}, adminAccess)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/admin/users/"+adminID+"/status", gin.H{"status": "suspended"}, adminAccess)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/admin/users/"+targetID+"/status", gin.H{"status": "suspended"}, adminAccess)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "bob@x.io", "password": "hunter22!"}, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ACCOUNT_INACTIVE", decode(t, rec)["code"])
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	limitCfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Minute,
		TTL:            time.Minute,
	}
	s := newTestServer(t, func(d *Deps) {
		d.RateLimit = middleware.RateLimit(middleware.NewMemoryLimiter(limitCfg), limitCfg, zerolog.Nop())
	})

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodPost, "/api/v1/auth/request-password-reset", gin.H{"email": "a@x.io"}, "")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/api/v1/auth/request-password-reset", gin.H{"email": "a@x.io"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decode(t, rec)["code"])
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = s.do(t, http.MethodGet, "/api/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthReportsEachCheck(t *testing.T) {
	s := newTestServer(t, func(d *Deps) {
		d.Checks = []HealthCheck{
			{Name: "database", Ping: func(context.Context) error { return nil }},
			{Name: "cache", Ping: func(context.Context) error { return errors.New("connection refused") }},
		}
	})

	rec := s.do(t, http.MethodGet, "/api/healthz", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"database": "ok", "cache": "error"}, body["checks"])
	assert.Equal(t, "test", body["environment"])
}
