package middleware

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/troikatech/voice-relay/pkg/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/api/ping", AuthMiddleware("secret", "voice-relay", "voice-relay-api"), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("operator"))
	})

	token, _, err := auth.IssueToken("ops", auth.ScopeOperator, "secret", "voice-relay", "voice-relay-api", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(r, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
			} else {
				assert.Equal(t, "ops", w.Body.String())
			}
		})
	}
}

func TestValidationParams(t *testing.T) {
	r := gin.New()
	r.GET("/records/:agent_id/:date", ValidateAgentParam("agent_id"), ValidateDateParam("date"), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("agent_id")+"|"+c.GetString("date"))
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/records/agent_01/2024-05-01", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "agent_01|2024-05-01", w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/records/agent_01/05-01-2024", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/records/a%20b/2024-05-01", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSecurityHeadersAndSizeLimit(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(), TraceMiddleware(), RequestSizeLimit(16))
	r.POST("/echo", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))

	w = serve(r, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("x", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestTraceMiddlewarePropagatesTraceID(t *testing.T) {
	r := gin.New()
	r.Use(TraceMiddleware())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("trace_id")) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	w := serve(r, req)
	assert.Equal(t, "trace-123", w.Body.String())
	assert.Equal(t, "trace-123", w.Header().Get("X-Trace-ID"))
}

func redisForTest(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRateLimiter(t *testing.T) {
	rdb := redisForTest(t)
	prefix := "test-" + time.Now().Format("150405.000000")

	r := gin.New()
	r.Use(NewRateLimiter(rdb, prefix, 2, zap.NewNop()).Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	}
	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

func TestIdempotencyReplaysSuccess(t *testing.T) {
	rdb := redisForTest(t)
	calls := 0

	r := gin.New()
	r.Use(IdempotencyMiddleware(rdb))
	r.POST("/calls", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusCreated, gin.H{"n": calls})
	})

	key := "idem-" + time.Now().Format("150405.000000")
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/calls", nil)
		req.Header.Set("Idempotency-Key", key)
		w := serve(r, req)
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.JSONEq(t, `{"n":1}`, w.Body.String())
	}
	assert.Equal(t, 1, calls)
}
