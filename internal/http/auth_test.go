package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAuthenticator_IssueAndValidate(t *testing.T) {
	a := NewAuthenticator("s3cret", "")

	token, err := a.IssueToken("ci-bot", time.Hour)
	require.NoError(t, err)

	claims, err := a.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ci-bot", claims.Subject)
	assert.Equal(t, "archagent", claims.Issuer)

	_, err = NewAuthenticator("other", "").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewAuthenticator("s3cret", "someone-else").Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := a.IssueToken("ci-bot", -time.Minute)
	require.NoError(t, err)
	_, err = a.Validate(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthMiddleware(t *testing.T) {
	server, err := NewServer(newFakeRuns(), zap.NewNop(), &Config{JWTSecret: "s3cret"})
	require.NoError(t, err)
	token, err := server.auth.IssueToken("tester", time.Hour)
	require.NoError(t, err)

	get := func(target, authz string) int {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		if authz != "" {
			req.Header.Set(echo.HeaderAuthorization, authz)
		}
		rec := httptest.NewRecorder()
		server.echo.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/health", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/api/v1/samples", ""))
	assert.Equal(t, http.StatusUnauthorized, get("/api/v1/samples", "Bearer not-a-jwt"))
	assert.Equal(t, http.StatusUnauthorized, get("/api/v1/samples", "Basic dXNlcjpwYXNz"))
	assert.Equal(t, http.StatusOK, get("/api/v1/samples", "Bearer "+token))
	assert.Equal(t, http.StatusOK, get("/api/v1/samples", "bearer "+token))
	assert.Equal(t, http.StatusOK, get("/api/v1/samples?access_token="+token, ""))
}
