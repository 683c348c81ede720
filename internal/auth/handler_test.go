package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/fullstack-auth/internal/user"
)

// stubAuthService は AuthService のテスト用実装です。
type stubAuthService struct {
	signUpSession *Session
	signUpErr     error
	signInSession *Session
	signInErr     error
	currentUser   user.Public
	currentErr    error
}

func (s *stubAuthService) SignUp(ctx context.Context, email, name, password string) (*Session, error) {
	return s.signUpSession, s.signUpErr
}

func (s *stubAuthService) SignIn(ctx context.Context, email, password string) (*Session, error) {
	return s.signInSession, s.signInErr
}

func (s *stubAuthService) CurrentUser(ctx context.Context, userID string) (user.Public, error) {
	return s.currentUser, s.currentErr
}

// stubLimiter はロック状態と記録回数を固定・観測できる AttemptLimiter です。
type stubLimiter struct {
	lockedFor time.Duration
	failures  int
	resets    int
}

func (l *stubLimiter) CheckLock(ctx context.Context, ip string) (time.Duration, error) {
	return l.lockedFor, nil
}

func (l *stubLimiter) RecordFailure(ctx context.Context, ip string) (int, error) {
	l.failures++
	return maxLoginAttempts - l.failures, nil
}

func (l *stubLimiter) Reset(ctx context.Context, ip string) error {
	l.resets++
	return nil
}

func newTestRouter(svc AuthService, limiter AttemptLimiter, tokens *TokenService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(svc, limiter)

	router := gin.New()
	authRoutes := router.Group("/api/auth")
	authRoutes.POST("/register", handler.Register)
	authRoutes.POST("/login", handler.Login)

	protected := authRoutes.Group("")
	protected.Use(RequireAuth(tokens))
	protected.GET("/me", handler.Me)

	return router
}

func testTokens() *TokenService {
	return NewTokenService([]byte("test-secret"), time.Hour)
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestRegisterSuccess(t *testing.T) {
	svc := &stubAuthService{
		signUpSession: &Session{
			User:  user.Public{ID: "65f000000000000000000001", Email: "a@x.com", Name: "A"},
			Token: "signed-token",
		},
	}
	router := newTestRouter(svc, nil, testTokens())

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register",
		`{"email":"a@x.com","name":"A","password":"Passw0rd!"}`, nil)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["message"] != "User created successfully" {
		t.Errorf("message = %v", body["message"])
	}
	u := body["user"].(map[string]any)
	if u["email"] != "a@x.com" {
		t.Errorf("user.email = %v", u["email"])
	}
	if body["token"] == "" || body["token"] == nil {
		t.Error("token must be non-empty")
	}
	if strings.Contains(strings.ToLower(rec.Body.String()), "password") {
		t.Errorf("response must not contain a password field: %s", rec.Body.String())
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := &stubAuthService{signUpErr: ErrEmailTaken}
	router := newTestRouter(svc, nil, testTokens())

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register",
		`{"email":"a@x.com","name":"A","password":"Passw0rd!"}`, nil)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["message"] != "User with this email already exists" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestRegisterRejectsUnknownFields(t *testing.T) {
	svc := &stubAuthService{}
	router := newTestRouter(svc, nil, testTokens())

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register",
		`{"email":"a@x.com","name":"A","password":"Passw0rd!","admin":true}`, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterValidationErrors(t *testing.T) {
	svc := &stubAuthService{}
	router := newTestRouter(svc, nil, testTokens())

	rec := doJSON(t, router, http.MethodPost, "/api/auth/register",
		`{"email":"not-an-email","name":"ab","password":"short"}`, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	fieldErrs, ok := body["errors"].(map[string]any)
	if !ok {
		t.Fatalf("expected per-field errors, got %v", body)
	}
	for _, field := range []string{"email", "name", "password"} {
		if _, ok := fieldErrs[field]; !ok {
			t.Errorf("missing validation error for %q: %v", field, fieldErrs)
		}
	}
}

func TestRegisterPasswordCompositionRules(t *testing.T) {
	svc := &stubAuthService{}
	router := newTestRouter(svc, nil, testTokens())

	// 8文字以上だが数字と記号を含まない
	rec := doJSON(t, router, http.MethodPost, "/api/auth/register",
		`{"email":"a@x.com","name":"Alice","password":"onlyletters"}`, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	fieldErrs := body["errors"].(map[string]any)
	msgs, ok := fieldErrs["password"].([]any)
	if !ok || len(msgs) != 2 {
		t.Fatalf("expected 2 password rule errors, got %v", fieldErrs["password"])
	}
}

func TestLoginFailureMessagesIdentical(t *testing.T) {
	unknown := &stubAuthService{signInErr: ErrInvalidCredentials}
	wrongPw := &stubAuthService{signInErr: ErrInvalidCredentials}

	recUnknown := doJSON(t, newTestRouter(unknown, nil, testTokens()),
		http.MethodPost, "/api/auth/login", `{"email":"nouser@x.com","password":"anything"}`, nil)
	recWrongPw := doJSON(t, newTestRouter(wrongPw, nil, testTokens()),
		http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"wrong"}`, nil)

	if recUnknown.Code != http.StatusUnauthorized || recWrongPw.Code != http.StatusUnauthorized {
		t.Fatalf("statuses = %d, %d, want 401", recUnknown.Code, recWrongPw.Code)
	}

	msgUnknown := decodeBody(t, recUnknown)["message"]
	msgWrongPw := decodeBody(t, recWrongPw)["message"]
	if msgUnknown != "Invalid credentials" {
		t.Errorf("message = %v, want Invalid credentials", msgUnknown)
	}
	if msgUnknown != msgWrongPw {
		t.Errorf("messages differ: %v vs %v", msgUnknown, msgWrongPw)
	}
}

func TestLoginSuccessResetsAttempts(t *testing.T) {
	svc := &stubAuthService{
		signInSession: &Session{
			User:  user.Public{ID: "65f000000000000000000001", Email: "a@x.com", Name: "A"},
			Token: "signed-token",
		},
	}
	limiter := &stubLimiter{}
	router := newTestRouter(svc, limiter, testTokens())

	rec := doJSON(t, router, http.MethodPost, "/api/auth/login",
		`{"email":"a@x.com","password":"Passw0rd!"}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["message"] != "Sign in successful" {
		t.Errorf("message = %v", body["message"])
	}
	if limiter.resets != 1 {
		t.Errorf("resets = %d, want 1", limiter.resets)
	}
	if strings.Contains(strings.ToLower(rec.Body.String()), "password") {
		t.Errorf("response must not contain a password field: %s", rec.Body.String())
	}
}

func TestLoginFailureRecordsAttempt(t *testing.T) {
	svc := &stubAuthService{signInErr: ErrInvalidCredentials}
	limiter := &stubLimiter{}
	router := newTestRouter(svc, limiter, testTokens())

	rec := doJSON(t, router, http.MethodPost, "/api/auth/login",
		`{"email":"a@x.com","password":"wrong"}`, nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if limiter.failures != 1 {
		t.Errorf("failures = %d, want 1", limiter.failures)
	}
}

func TestLoginLockedOut(t *testing.T) {
	svc := &stubAuthService{signInErr: ErrInvalidCredentials}
	limiter := &stubLimiter{lockedFor: 90 * time.Second}
	router := newTestRouter(svc, limiter, testTokens())

	rec := doJSON(t, router, http.MethodPost, "/api/auth/login",
		`{"email":"a@x.com","password":"wrong"}`, nil)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") != "90" {
		t.Errorf("Retry-After = %q, want 90", rec.Header().Get("Retry-After"))
	}
}

func TestMeWithoutToken(t *testing.T) {
	router := newTestRouter(&stubAuthService{}, nil, testTokens())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401: %s", rec.Code, rec.Body.String())
	}
}

func TestMeWithForeignSecretToken(t *testing.T) {
	router := newTestRouter(&stubAuthService{}, nil, testTokens())

	foreign := NewTokenService([]byte("other-secret"), time.Hour)
	token, err := foreign.Issue("user-123", "a@x.com")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header = header
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401: %s", rec.Code, rec.Body.String())
	}
}

func TestMeSuccess(t *testing.T) {
	tokens := testTokens()
	svc := &stubAuthService{
		currentUser: user.Public{ID: "65f000000000000000000001", Email: "a@x.com", Name: "A"},
	}
	router := newTestRouter(svc, nil, tokens)

	token, err := tokens.Issue("65f000000000000000000001", "a@x.com")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	u := body["user"].(map[string]any)
	if u["id"] != "65f000000000000000000001" || u["email"] != "a@x.com" {
		t.Errorf("unexpected user: %v", u)
	}
	if strings.Contains(strings.ToLower(rec.Body.String()), "password") {
		t.Errorf("response must not contain a password field: %s", rec.Body.String())
	}
}

func TestMeUserVanished(t *testing.T) {
	tokens := testTokens()
	svc := &stubAuthService{currentErr: ErrUserNotFound}
	router := newTestRouter(svc, nil, tokens)

	token, err := tokens.Issue("65f000000000000000000001", "a@x.com")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401: %s", rec.Code, rec.Body.String())
	}
	if decodeBody(t, rec)["message"] != "User not found" {
		t.Errorf("message = %v, want User not found", decodeBody(t, rec)["message"])
	}
}
