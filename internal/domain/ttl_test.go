package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpiryPolicy(t *testing.T) {
	t.Run("默认策略为1小时TTL与5分钟宽限", func(t *testing.T) {
		policy := DefaultExpiryPolicy()

		assert.Equal(t, time.Hour, policy.TTL)
		assert.Equal(t, 5*time.Minute, policy.GraceWindow)
	})

	t.Run("Deadline从当前时刻累加TTL", func(t *testing.T) {
		policy := ExpiryPolicy{TTL: 30 * time.Minute}
		now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

		assert.Equal(t, now.Add(30*time.Minute), policy.Deadline(now))
	})
}

func TestExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("未到过期时刻的会话未过期", func(t *testing.T) {
		sess := &Session{ExpiresAt: now.Add(time.Minute)}
		assert.False(t, Expired(sess, now))
	})

	t.Run("恰好到达过期时刻的会话未过期", func(t *testing.T) {
		sess := &Session{ExpiresAt: now}
		assert.False(t, Expired(sess, now))
	})

	t.Run("超过过期时刻的会话已过期", func(t *testing.T) {
		sess := &Session{ExpiresAt: now.Add(-time.Second)}
		assert.True(t, Expired(sess, now))
	})
}

func TestClaimable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("不存在的会话允许占用", func(t *testing.T) {
		assert.True(t, Claimable(nil, now))
	})

	t.Run("激活且未过期的会话阻止占用", func(t *testing.T) {
		sess := &Session{Active: true, ExpiresAt: now.Add(time.Hour)}
		assert.False(t, Claimable(sess, now))
	})

	t.Run("已释放的会话允许占用", func(t *testing.T) {
		sess := &Session{Active: false, ExpiresAt: now.Add(time.Hour)}
		assert.True(t, Claimable(sess, now))
	})

	t.Run("已过期的会话允许占用", func(t *testing.T) {
		sess := &Session{Active: true, ExpiresAt: now.Add(-time.Minute)}
		assert.True(t, Claimable(sess, now))
	})
}

func TestSweepable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	grace := 5 * time.Minute

	t.Run("已过期的会话应被清扫", func(t *testing.T) {
		sess := &Session{Active: true, ExpiresAt: now.Add(-time.Second)}
		assert.True(t, Sweepable(sess, now, grace))
	})

	t.Run("激活且未过期的会话不被清扫", func(t *testing.T) {
		sess := &Session{
			Active:         true,
			ExpiresAt:      now.Add(time.Hour),
			LastActivityAt: now.Add(-time.Hour),
		}
		assert.False(t, Sweepable(sess, now, grace))
	})

	t.Run("已释放但仍在宽限窗口内的会话不被清扫", func(t *testing.T) {
		sess := &Session{
			Active:         false,
			ExpiresAt:      now.Add(time.Hour),
			LastActivityAt: now.Add(-time.Minute),
		}
		assert.False(t, Sweepable(sess, now, grace))
	})

	t.Run("已释放且超过宽限窗口的会话应被清扫", func(t *testing.T) {
		sess := &Session{
			Active:         false,
			ExpiresAt:      now.Add(time.Hour),
			LastActivityAt: now.Add(-10 * time.Minute),
		}
		assert.True(t, Sweepable(sess, now, grace))
	})
}
