// Package health 聚合服务的存活与就绪检查。
package health

import (
	"net/http"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"dropmail/backend/internal/storage"
)

// Checker 健康检查器
type Checker struct {
	health healthcheck.Handler
	store  storage.Store
	logger *zap.Logger
}

// NewChecker 创建健康检查器。
func NewChecker(store storage.Store, logger *zap.Logger) *Checker {
	hc := &Checker{
		health: healthcheck.NewHandler(),
		store:  store,
		logger: logger,
	}
	hc.addChecks()
	return hc
}

// addChecks 注册各项检查。
func (hc *Checker) addChecks() {
	// 存储连接检查
	hc.health.AddLivenessCheck("storage", func() error {
		return hc.store.Health()
	})

	// goroutine 数量检查，泄漏时就绪探针失败
	hc.health.AddReadinessCheck("goroutine-count",
		healthcheck.GoroutineCountCheck(500))
}

// Handler 返回健康检查处理器。
func (hc *Checker) Handler() http.Handler {
	return hc.health
}
