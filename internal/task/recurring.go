// Package task 提供固定间隔执行的后台任务抽象。
package task

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Recurring 表示一个固定间隔执行的后台任务。
//
// 任务执行失败只记录日志并等待下一个周期，绝不终止进程；任务随
// ctx 取消而停止，进程生命周期内不提供单独的取消手段。
type Recurring struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
	Log      *zap.Logger
}

// Start 阻塞运行任务循环，直到 ctx 被取消。
func (t *Recurring) Start(ctx context.Context) error {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	t.Log.Info("recurring task started",
		zap.String("task", t.Name),
		zap.Duration("interval", t.Interval),
	)

	for {
		select {
		case <-ctx.Done():
			t.Log.Info("recurring task stopped", zap.String("task", t.Name))
			return nil
		case <-ticker.C:
			if err := t.Run(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				t.Log.Error("recurring task run failed",
					zap.String("task", t.Name),
					zap.Error(err),
				)
			}
		}
	}
}
