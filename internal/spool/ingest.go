package spool

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/mailparse"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/storage"
)

// workingSuffix 导入过程中的工作文件后缀
const workingSuffix = ".importing"

// Notifier 接收新邮件入库通知（如 WebSocket 推送）。
type Notifier interface {
	NotifyNewMail(address string, msg *domain.Message)
}

// Importer 负责把暂存文件中的记录导入消息存储。
//
// 消费协议：先把暂存文件原子地改名为工作文件，再解析工作文件，处理
// 完毕后删除。传输代理在改名之后的追加写会落到新的暂存文件里，下一
// 轮导入照常消费，暂存文件从不被截断，不会丢失并发追加的记录。
type Importer struct {
	path     string
	store    storage.Store
	log      *zap.Logger
	notifier Notifier
	metrics  *monitoring.Metrics
	now      func() time.Time
}

// ImporterOption 配置 Importer 的可选依赖。
type ImporterOption func(*Importer)

// WithNotifier 设置新邮件通知接收方。
func WithNotifier(n Notifier) ImporterOption {
	return func(im *Importer) { im.notifier = n }
}

// WithMetrics 设置监控指标。
func WithMetrics(m *monitoring.Metrics) ImporterOption {
	return func(im *Importer) { im.metrics = m }
}

// WithClock 替换时间源（测试用）。
func WithClock(now func() time.Time) ImporterOption {
	return func(im *Importer) { im.now = now }
}

// NewImporter 创建暂存文件导入器。
func NewImporter(path string, store storage.Store, log *zap.Logger, opts ...ImporterOption) *Importer {
	im := &Importer{
		path:  path,
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(im)
	}
	return im
}

// Run 执行一轮导入，返回成功入库的邮件数量。
//
// 单条记录的解析失败或入库拒绝只影响该条记录；没有激活会话的收件地
// 址对应的记录被静默丢弃且不再重试。存储故障会中止本轮并保留工作文
// 件，下一轮从头重试，MessageID 去重保证已入库的记录不会重复。
func (im *Importer) Run(ctx context.Context) (int, error) {
	imported := 0

	// 先消化上一轮崩溃残留的工作文件
	working := im.path + workingSuffix
	if _, err := os.Stat(working); err == nil {
		n, err := im.drain(ctx, working)
		imported += n
		if err != nil {
			return imported, err
		}
	}

	fi, err := os.Stat(im.path)
	if errors.Is(err, fs.ErrNotExist) {
		return imported, nil
	}
	if err != nil {
		return imported, err
	}
	if fi.Size() == 0 {
		return imported, nil
	}

	// 原子改名，之后传输代理的追加写落到新的暂存文件
	if err := os.Rename(im.path, working); err != nil {
		return imported, err
	}

	n, err := im.drain(ctx, working)
	imported += n
	return imported, err
}

// drain 解析并消费一个工作文件。
//
// 只有整轮处理没有遇到存储故障和读取故障时才删除文件；否则文件保留，
// 由下一轮的残留文件路径重试。
func (im *Importer) drain(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	records, scanErr := SplitRecords(f)
	f.Close()
	if scanErr != nil {
		im.log.Warn("spool scan stopped early, keeping working file",
			zap.String("path", path), zap.Error(scanErr))
	}

	imported := 0
	for _, record := range records {
		select {
		case <-ctx.Done():
			return imported, ctx.Err()
		default:
		}

		draft, err := mailparse.Parse(record)
		if err != nil {
			im.log.Warn("skipping unparsable spool record", zap.Error(err))
			if im.metrics != nil {
				im.metrics.ParseFailures.Inc()
			}
			continue
		}

		msg := &domain.Message{
			MessageID:  draft.MessageID,
			Address:    strings.ToLower(draft.Recipient),
			Sender:     draft.Sender,
			Subject:    draft.Subject,
			Body:       draft.Body,
			ReceivedAt: im.now(),
		}

		inserted, err := im.store.AppendMessage(msg)
		if err != nil {
			// 存储故障：中止本轮，工作文件保留待下一轮重试
			im.log.Error("failed to append spool record, aborting pass",
				zap.String("address", msg.Address),
				zap.Error(err),
			)
			return imported, err
		}
		if !inserted {
			im.log.Debug("spool record dropped",
				zap.String("address", msg.Address),
				zap.String("message_id", msg.MessageID),
			)
			if im.metrics != nil {
				im.metrics.MessagesDropped.Inc()
			}
			continue
		}

		imported++
		if im.metrics != nil {
			im.metrics.MessagesImported.Inc()
		}
		if im.notifier != nil {
			im.notifier.NotifyNewMail(msg.Address, msg)
		}
	}

	if scanErr != nil {
		return imported, scanErr
	}
	if err := os.Remove(path); err != nil {
		im.log.Error("failed to remove drained spool file", zap.String("path", path), zap.Error(err))
		return imported, err
	}
	return imported, nil
}
