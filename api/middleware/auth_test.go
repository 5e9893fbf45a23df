package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/midnight-artisan/artisan/config"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/orders", func(c *gin.Context) { c.String(http.StatusOK, "orders") })
	return r
}

func TestSecretKeyAuthMiddleware(t *testing.T) {
	config.MockConfig(&config.Configuration{Server: config.ServerConfig{Secure: true, SecretKey: "s3cret"}})
	router := newRouter(SecretKeyAuthMiddleware())

	tests := []struct {
		name         string
		path         string
		key          string
		expectedCode int
	}{
		{name: "Health check is public", path: "/", expectedCode: http.StatusOK},
		{name: "Missing key", path: "/orders", expectedCode: http.StatusUnauthorized},
		{name: "Wrong key", path: "/orders", key: "nope", expectedCode: http.StatusUnauthorized},
		{name: "Valid key", path: "/orders", key: "s3cret", expectedCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.key != "" {
				req.Header.Set(KeyHeader, tt.key)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)
			assert.Equal(t, tt.expectedCode, resp.Code)
		})
	}
}

func TestSecretKeyAuthMiddleware_NoSecretConfigured(t *testing.T) {
	config.MockConfig(&config.Configuration{Server: config.ServerConfig{Secure: true}})
	router := newRouter(SecretKeyAuthMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(KeyHeader, "anything")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	rps := 1.0
	burst := 2
	router := newRouter(RateLimitMiddleware(&config.Configuration{
		RateLimit: config.RateLimitConfig{RequestsPerSecond: &rps, Burst: &burst},
	}))

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Contains(t, codes, http.StatusTooManyRequests)
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	router := newRouter(RateLimitMiddleware(&config.Configuration{}))
	for i := 0; i < 20; i++ {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/orders", nil))
		assert.Equal(t, http.StatusOK, resp.Code)
	}
}
