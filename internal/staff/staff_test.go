package staff

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gymdesk/internal/apperr"
	"gymdesk/internal/caller"
	"gymdesk/internal/clock"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, salt, err := HashPassword("s3cret")
	require.NoError(t, err)

	ok, err := VerifyPassword("s3cret", hash, salt)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong", hash, salt)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyPassword("s3cret", "%%%", salt)
	assert.Error(t, err)
}

func newTestService(t *testing.T, clk clock.Clock, perMinute int) *Service {
	t.Helper()
	hash, salt, err := HashPassword("letmein")
	require.NoError(t, err)
	accounts := []Account{{Username: "Desk", Name: "Front Desk", PasswordHash: hash, Salt: salt}}
	return NewService(accounts, NewTokenManager("test-secret", time.Hour, clk), perMinute, zap.NewNop())
}

func TestAuthenticate(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk, 0)
	ctx := context.Background()

	login, err := svc.Authenticate(ctx, "desk", "letmein")
	require.NoError(t, err)
	assert.Equal(t, "Desk", login.Staff.Username)
	assert.Equal(t, clk.Now().Add(time.Hour), login.ExpiresAt)

	id, err := svc.tokens.Verify(login.Token)
	require.NoError(t, err)
	assert.Equal(t, caller.Identity{Username: "Desk", Name: "Front Desk"}, id)

	_, err = svc.Authenticate(ctx, "desk", "nope")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	_, err = svc.Authenticate(ctx, "ghost", "letmein")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	clk.Advance(2 * time.Hour)
	_, err = svc.tokens.Verify(login.Token)
	assert.Error(t, err, "expired")
}

func TestAuthenticateRateLimited(t *testing.T) {
	svc := newTestService(t, clock.System{}, 2)
	ctx := context.Background()

	_, _ = svc.Authenticate(ctx, "desk", "bad")
	_, _ = svc.Authenticate(ctx, "desk", "bad")
	_, err := svc.Authenticate(ctx, "desk", "letmein")
	assert.True(t, apperr.Is(err, apperr.KindRateLimited))
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	clk := clock.System{}
	mine := NewTokenManager("secret-a", time.Hour, clk)
	theirs := NewTokenManager("secret-b", time.Hour, clk)

	token, _, err := theirs.Issue(caller.Identity{Username: "mallory"})
	require.NoError(t, err)
	_, err = mine.Verify(token)
	assert.Error(t, err)

	_, err = mine.Verify("not.a.token")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	tokens := NewTokenManager("secret", time.Hour, clock.System{})
	var seen string
	h := Middleware(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = caller.Username(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"unauthorized"`)

	token, _, err := tokens.Issue(caller.Identity{Username: "desk"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "desk", seen)
}

func TestLoginHandler(t *testing.T) {
	svc := newTestService(t, clock.System{}, 0)
	h := NewHandler(svc)

	rec := httptest.NewRecorder()
	h.HandleLogin(rec, httptest.NewRequest(http.MethodPost, "/login",
		strings.NewReader(`{"username":"desk","password":"letmein"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token"`)

	rec = httptest.NewRecorder()
	h.HandleLogin(rec, httptest.NewRequest(http.MethodPost, "/login",
		strings.NewReader(`{"username":"desk","password":"x"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
