package api

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/HSLdevcom/hfp-analytics-sub000/internal/config"
	"github.com/HSLdevcom/hfp-analytics-sub000/internal/handler"
)

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.JWTSecret = "s3cret"
	r := SetupRouter(cfg, handler.NewDelayAnalyticsHandler(nil, nil), log.New(io.Discard, "", 0))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Delay analytics API is running")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/v1/delay_analytics/status", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/delay_analytics/preprocess", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code, "trigger endpoints require a token")
}
