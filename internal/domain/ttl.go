package domain

import "time"

// ExpiryPolicy 约定邮箱会话的生命周期参数。只提供纯函数计算，不持有状态。
type ExpiryPolicy struct {
	TTL         time.Duration // 会话存活时长，到期自动失效
	GraceWindow time.Duration // 会话释放后记录保留的宽限窗口
}

// DefaultExpiryPolicy 返回默认生命周期策略（1 小时 TTL，5 分钟宽限）。
func DefaultExpiryPolicy() ExpiryPolicy {
	return ExpiryPolicy{
		TTL:         time.Hour,
		GraceWindow: 5 * time.Minute,
	}
}

// Deadline 计算从 now 起新会话的过期时刻。
func (p ExpiryPolicy) Deadline(now time.Time) time.Time {
	return now.Add(p.TTL)
}

// Expired 判断会话在 now 时刻是否已过期。
func Expired(s *Session, now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Claimable 判断地址上的既有会话是否允许被重新占用。
// 不存在、已释放或已过期的会话都不再构成占用。
func Claimable(s *Session, now time.Time) bool {
	if s == nil {
		return true
	}
	return !s.Active || Expired(s, now)
}

// Sweepable 判断会话是否应被清扫：已过期，或已释放且空闲时间超过宽限窗口。
func Sweepable(s *Session, now time.Time, grace time.Duration) bool {
	if Expired(s, now) {
		return true
	}
	return !s.Active && s.LastActivityAt.Before(now.Add(-grace))
}
