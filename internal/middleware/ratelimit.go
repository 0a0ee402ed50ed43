// Package middleware 提供 HTTP 请求层的通用中间件。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// visitorIdleTimeout 内存限流器中空闲访客的回收阈值
const visitorIdleTimeout = 10 * time.Minute

// RateLimiter 按客户端 IP 限制请求频率。
//
// 配置了 Redis 时使用固定窗口计数器，多副本共享同一份计数；否则退回
// 进程内的令牌桶，单副本部署下行为等价。
type RateLimiter struct {
	perMinute int
	rdb       *redis.Client
	log       *zap.Logger

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter 创建限流器，rdb 可以为 nil。
func NewRateLimiter(perMinute int, rdb *redis.Client, log *zap.Logger) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		rdb:       rdb,
		log:       log,
		visitors:  make(map[string]*visitor),
	}
}

// Limit 返回执行限流的 gin 中间件，超限请求返回 429。
func (rl *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()

		allowed := true
		if rl.rdb != nil {
			allowed = rl.allowRedis(c.Request.Context(), ip)
		} else {
			allowed = rl.allowLocal(ip)
		}

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code": http.StatusTooManyRequests,
				"msg":  "请求过于频繁，请稍后再试",
			})
			return
		}
		c.Next()
	}
}

// allowLocal 进程内令牌桶判定。
func (rl *RateLimiter) allowLocal(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{
			limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.perMinute)), rl.perMinute),
		}
		rl.visitors[ip] = v
	}
	v.lastSeen = now

	// 顺路回收长期空闲的访客，避免 map 无限增长
	if len(rl.visitors) > 1024 {
		for addr, vis := range rl.visitors {
			if now.Sub(vis.lastSeen) > visitorIdleTimeout {
				delete(rl.visitors, addr)
			}
		}
	}
	return v.limiter.Allow()
}

// allowRedis 基于 Redis 固定窗口计数判定，Redis 故障时放行。
func (rl *RateLimiter) allowRedis(ctx context.Context, ip string) bool {
	key := fmt.Sprintf("dropmail:ratelimit:create:%s:%d", ip, time.Now().Unix()/60)

	pipe := rl.rdb.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.log.Warn("rate limit counter unavailable, allowing request",
			zap.String("ip", ip),
			zap.Error(err),
		)
		return true
	}
	return count.Val() <= int64(rl.perMinute)
}
