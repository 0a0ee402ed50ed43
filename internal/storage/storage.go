package storage

import (
	"errors"
	"time"

	"dropmail/backend/internal/domain"
)

var (
	// ErrSessionNotFound 会话不存在（对外部调用方而言，不存在、令牌不
	// 匹配、已释放、已过期统一坍缩为这一个错误，不泄露具体原因）
	ErrSessionNotFound = errors.New("session not found")
	// ErrAddressTaken 地址已被激活且未过期的会话占用
	ErrAddressTaken = errors.New("address already taken")
	// ErrUnavailable 底层存储暂时不可用，调用方应退避重试
	ErrUnavailable = errors.New("storage unavailable")
)

// SessionRepository 定义邮箱会话数据存取操作。
//
// 每个方法都是一个独立的事务单元：实现必须保证同一地址上的并发
// CreateSession 确定性地只有一个赢家（先提交者胜出，落败者得到
// ErrAddressTaken）。
type SessionRepository interface {
	// CreateSession 原子地占用地址：若存在激活且未过期的会话则返回
	// ErrAddressTaken；否则先级联删除陈旧记录再插入新会话，旧会话的
	// 邮件绝不泄露给新的占用者。
	CreateSession(sess *domain.Session) error
	// GetSession 返回地址对应的原始会话记录，不做过期过滤。
	GetSession(address string) (*domain.Session, error)
	// TouchSession 更新会话的最近活跃时刻。
	TouchSession(address string, at time.Time) error
	// ReleaseSession 释放会话：标记为非激活并级联删除其全部邮件，
	// 记录本身保留到宽限窗口结束后由 SweepExpired 清除。
	ReleaseSession(address string, at time.Time) error
	// SweepExpired 删除所有已过期、或已释放且空闲超过 grace 的会话
	// 及其邮件，返回删除的会话数量。这是会话随时间被永久销毁的唯一入口。
	SweepExpired(now time.Time, grace time.Duration) (int, error)
	// CountSessions 返回当前会话总数（统计与健康检查用）。
	CountSessions() (int, error)
}

// MessageRepository 定义邮件数据存取操作。
type MessageRepository interface {
	// AppendMessage 追加一封邮件。收件地址没有激活会话、或外部
	// MessageID 已在存储中任意位置出现过时静默拒绝（返回 false，无
	// 错误）。
	AppendMessage(msg *domain.Message) (bool, error)
	// ListMessages 返回地址下的全部邮件，按接收时间倒序（最新在前）；
	// 地址未知时返回空切片。调用方须已通过所有权验证。
	ListMessages(address string) ([]domain.Message, error)
	// DeleteAllMessages 删除地址下的全部邮件，返回删除数量。仅由
	// 会话释放与清扫的级联路径调用。
	DeleteAllMessages(address string) (int, error)
	// CountMessages 返回当前邮件总数（统计与健康检查用）。
	CountMessages() (int, error)
}

// Store 定义完整的存储接口。
type Store interface {
	SessionRepository
	MessageRepository

	Close() error
	Health() error
}
