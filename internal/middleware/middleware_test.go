package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/run", Auth(secret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user"))
	})
	return r
}

func signed(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func post(r http.Handler, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	r := protectedRouter("s3cret")
	valid := jwt.RegisteredClaims{Subject: "operator", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	w := post(r, signed(t, "s3cret", jwt.SigningMethodHS256, valid))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "operator", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, post(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, post(r, signed(t, "other", jwt.SigningMethodHS256, valid)).Code)
	assert.Equal(t, http.StatusUnauthorized, post(r, signed(t, "s3cret", jwt.SigningMethodHS384, valid)).Code)

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	assert.Equal(t, http.StatusUnauthorized, post(r, signed(t, "s3cret", jwt.SigningMethodHS256, expired)).Code)
}

func TestAuthDisabled(t *testing.T) {
	r := protectedRouter("")
	assert.Equal(t, http.StatusOK, post(r, "").Code)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("a")
	assert.True(t, ok)
	ok, _ = rl.Allow("a")
	assert.True(t, ok)
	ok, retry := rl.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, time.Second, retry)

	ok, _ = rl.Allow("b")
	assert.True(t, ok, "clients are limited independently")

	now = now.Add(time.Second)
	ok, _ = rl.Allow("a")
	assert.True(t, ok, "window has passed")
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RateLimit(1, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		return w
	}
	assert.Equal(t, http.StatusOK, get().Code)
	w := get()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRateLimiterPrunesStaleClients(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Second)
	rl.now = func() time.Time { return now }

	for i := 0; i < maxTrackedClients; i++ {
		rl.Allow(fmt.Sprintf("client-%d", i))
	}
	assert.Len(t, rl.requests, maxTrackedClients, "no pruning at the threshold")

	now = now.Add(2 * time.Second)
	rl.Allow("late")
	assert.Len(t, rl.requests, 1, "stale clients pruned once the threshold is crossed")
}
