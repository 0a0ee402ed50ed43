package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLimitedRouter(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/create", rl.Limit(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func doRequest(router *gin.Engine, ip string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/create", nil)
	req.RemoteAddr = ip + ":12345"
	router.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiterLocal(t *testing.T) {
	t.Run("限额内的请求放行", func(t *testing.T) {
		rl := NewRateLimiter(5, nil, zap.NewNop())
		router := newLimitedRouter(rl)

		for i := 0; i < 5; i++ {
			assert.Equal(t, http.StatusOK, doRequest(router, "10.0.0.1"))
		}
	})

	t.Run("超过限额返回429", func(t *testing.T) {
		rl := NewRateLimiter(2, nil, zap.NewNop())
		router := newLimitedRouter(rl)

		assert.Equal(t, http.StatusOK, doRequest(router, "10.0.0.1"))
		assert.Equal(t, http.StatusOK, doRequest(router, "10.0.0.1"))
		assert.Equal(t, http.StatusTooManyRequests, doRequest(router, "10.0.0.1"))
	})

	t.Run("不同IP独立计数", func(t *testing.T) {
		rl := NewRateLimiter(1, nil, zap.NewNop())
		router := newLimitedRouter(rl)

		assert.Equal(t, http.StatusOK, doRequest(router, "10.0.0.1"))
		assert.Equal(t, http.StatusTooManyRequests, doRequest(router, "10.0.0.1"))
		assert.Equal(t, http.StatusOK, doRequest(router, "10.0.0.2"))
	})
}

func TestRateLimiterRedis(t *testing.T) {
	t.Run("Redis计数超过限额返回429", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer rdb.Close()

		rl := NewRateLimiter(2, rdb, zap.NewNop())
		router := newLimitedRouter(rl)

		assert.Equal(t, http.StatusOK, doRequest(router, "10.0.0.1"))
		assert.Equal(t, http.StatusOK, doRequest(router, "10.0.0.1"))
		assert.Equal(t, http.StatusTooManyRequests, doRequest(router, "10.0.0.1"))
	})

	t.Run("Redis故障时放行请求", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer rdb.Close()
		mr.Close() // 模拟 Redis 不可用

		rl := NewRateLimiter(1, rdb, zap.NewNop())
		router := newLimitedRouter(rl)

		require.Equal(t, http.StatusOK, doRequest(router, "10.0.0.1"))
		assert.Equal(t, http.StatusOK, doRequest(router, "10.0.0.1"))
	})
}
