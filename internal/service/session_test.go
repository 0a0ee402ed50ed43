package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dropmail/backend/internal/config"
	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
	"dropmail/backend/internal/storage/memory"
)

func newTestService(now time.Time) (*SessionService, *memory.Store) {
	store := memory.NewStore()
	cfg := config.MailboxConfig{
		AllowedDomains: []string{"drop.mail", "alt.mail"},
		TTL:            time.Hour,
		GraceWindow:    5 * time.Minute,
	}
	svc := NewSessionService(store, cfg, zap.NewNop(),
		WithClock(func() time.Time { return now }),
	)
	return svc, store
}

func TestCreate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("占用地址并签发令牌", func(t *testing.T) {
		svc, _ := newTestService(now)

		sess, err := svc.Create("Alice", "")

		require.NoError(t, err)
		assert.Equal(t, "alice@drop.mail", sess.Address)
		assert.Equal(t, "alice", sess.LocalPart)
		assert.Equal(t, "drop.mail", sess.Domain)
		assert.NotEmpty(t, sess.OwnerToken)
		assert.Equal(t, now, sess.CreatedAt)
		assert.Equal(t, now.Add(time.Hour), sess.ExpiresAt)
		assert.True(t, sess.Active)
	})

	t.Run("两次创建的令牌互不相同", func(t *testing.T) {
		svc, _ := newTestService(now)

		first, err := svc.Create("alice", "")
		require.NoError(t, err)
		second, err := svc.Create("bob", "")
		require.NoError(t, err)

		assert.NotEqual(t, first.OwnerToken, second.OwnerToken)
	})

	t.Run("指定允许的域名", func(t *testing.T) {
		svc, _ := newTestService(now)

		sess, err := svc.Create("alice", "alt.mail")

		require.NoError(t, err)
		assert.Equal(t, "alice@alt.mail", sess.Address)
	})

	t.Run("非法前缀被拒绝", func(t *testing.T) {
		svc, _ := newTestService(now)

		_, err := svc.Create("has space", "")

		assert.ErrorIs(t, err, domain.ErrLocalPartInvalid)
	})

	t.Run("不在允许列表的域名被拒绝", func(t *testing.T) {
		svc, _ := newTestService(now)

		_, err := svc.Create("alice", "evil.example")

		assert.ErrorIs(t, err, ErrDomainNotAllowed)
	})

	t.Run("重复占用返回冲突", func(t *testing.T) {
		svc, _ := newTestService(now)
		_, err := svc.Create("alice", "")
		require.NoError(t, err)

		_, err = svc.Create("ALICE", "")

		assert.ErrorIs(t, err, storage.ErrAddressTaken)
	})
}

func TestCheckAvailable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("空闲地址可用", func(t *testing.T) {
		svc, _ := newTestService(now)

		available, err := svc.CheckAvailable("alice", "")

		require.NoError(t, err)
		assert.True(t, available)
	})

	t.Run("已占用地址不可用", func(t *testing.T) {
		svc, _ := newTestService(now)
		_, err := svc.Create("alice", "")
		require.NoError(t, err)

		available, err := svc.CheckAvailable("alice", "")

		require.NoError(t, err)
		assert.False(t, available)
	})

	t.Run("已释放地址重新可用", func(t *testing.T) {
		svc, _ := newTestService(now)
		sess, err := svc.Create("alice", "")
		require.NoError(t, err)
		released, err := svc.End(sess.Address, sess.OwnerToken)
		require.NoError(t, err)
		require.True(t, released)

		available, err := svc.CheckAvailable("alice", "")

		require.NoError(t, err)
		assert.True(t, available)
	})
}

func TestVerifyOwnership(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("正确令牌通过验证", func(t *testing.T) {
		svc, _ := newTestService(now)
		created, err := svc.Create("alice", "")
		require.NoError(t, err)

		sess, err := svc.VerifyOwnership(created.Address, created.OwnerToken)

		require.NoError(t, err)
		assert.Equal(t, created.Address, sess.Address)
	})

	t.Run("错误令牌与未知地址返回同一错误", func(t *testing.T) {
		svc, _ := newTestService(now)
		created, err := svc.Create("alice", "")
		require.NoError(t, err)

		_, errWrongToken := svc.VerifyOwnership(created.Address, "wrong-token")
		_, errUnknown := svc.VerifyOwnership("ghost@drop.mail", created.OwnerToken)

		assert.ErrorIs(t, errWrongToken, storage.ErrSessionNotFound)
		assert.ErrorIs(t, errUnknown, storage.ErrSessionNotFound)
	})

	t.Run("过期会话验证失败", func(t *testing.T) {
		svc, store := newTestService(now)
		created, err := svc.Create("alice", "")
		require.NoError(t, err)

		lateSvc := NewSessionService(store, config.MailboxConfig{
			AllowedDomains: []string{"drop.mail"},
			TTL:            time.Hour,
			GraceWindow:    5 * time.Minute,
		}, zap.NewNop(), WithClock(func() time.Time { return now.Add(2 * time.Hour) }))

		_, err = lateSvc.VerifyOwnership(created.Address, created.OwnerToken)

		assert.ErrorIs(t, err, storage.ErrSessionNotFound)
	})
}

func TestFetchMessages(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("验证失败时返回空列表而非错误", func(t *testing.T) {
		svc, _ := newTestService(now)
		created, err := svc.Create("alice", "")
		require.NoError(t, err)

		msgs, err := svc.FetchMessages(created.Address, "wrong-token")

		require.NoError(t, err)
		assert.NotNil(t, msgs)
		assert.Empty(t, msgs)
	})

	t.Run("返回邮件并刷新活跃时刻", func(t *testing.T) {
		svc, store := newTestService(now)
		created, err := svc.Create("alice", "")
		require.NoError(t, err)

		inserted, err := store.AppendMessage(&domain.Message{
			MessageID:  "<m1>",
			Address:    created.Address,
			Sender:     "sender@example.com",
			Subject:    "hi",
			Body:       "body",
			ReceivedAt: now.Add(time.Minute),
		})
		require.NoError(t, err)
		require.True(t, inserted)

		msgs, err := svc.FetchMessages(created.Address, created.OwnerToken)

		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "<m1>", msgs[0].MessageID)

		sess, err := store.GetSession(created.Address)
		require.NoError(t, err)
		assert.Equal(t, now, sess.LastActivityAt)
	})
}

func TestEnd(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("释放会话并立即删除邮件", func(t *testing.T) {
		svc, store := newTestService(now)
		created, err := svc.Create("alice", "")
		require.NoError(t, err)

		inserted, err := store.AppendMessage(&domain.Message{
			MessageID:  "<m1>",
			Address:    created.Address,
			ReceivedAt: now,
		})
		require.NoError(t, err)
		require.True(t, inserted)

		released, err := svc.End(created.Address, created.OwnerToken)

		require.NoError(t, err)
		assert.True(t, released)

		total, err := store.CountMessages()
		require.NoError(t, err)
		assert.Zero(t, total)

		// 会话记录保留到宽限窗口结束
		count, err := store.CountSessions()
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("验证失败时返回false且无错误", func(t *testing.T) {
		svc, _ := newTestService(now)
		created, err := svc.Create("alice", "")
		require.NoError(t, err)

		released, err := svc.End(created.Address, "wrong-token")

		require.NoError(t, err)
		assert.False(t, released)
	})

	t.Run("重复释放第二次失败", func(t *testing.T) {
		svc, _ := newTestService(now)
		created, err := svc.Create("alice", "")
		require.NoError(t, err)

		released, err := svc.End(created.Address, created.OwnerToken)
		require.NoError(t, err)
		require.True(t, released)

		released, err = svc.End(created.Address, created.OwnerToken)
		require.NoError(t, err)
		assert.False(t, released)
	})
}

func TestSweep(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("销毁过期会话", func(t *testing.T) {
		svc, store := newTestService(now)
		_, err := svc.Create("alice", "")
		require.NoError(t, err)

		lateSvc := NewSessionService(store, config.MailboxConfig{
			AllowedDomains: []string{"drop.mail"},
			TTL:            time.Hour,
			GraceWindow:    5 * time.Minute,
		}, zap.NewNop(), WithClock(func() time.Time { return now.Add(2 * time.Hour) }))

		removed, err := lateSvc.Sweep()

		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})
}

func TestHealthAndDomains(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("健康状态包含首选域名", func(t *testing.T) {
		svc, _ := newTestService(now)

		h := svc.Health()

		assert.Equal(t, "ok", h.Status)
		assert.Equal(t, "drop.mail", h.Domain)
	})

	t.Run("域名列表返回副本", func(t *testing.T) {
		svc, _ := newTestService(now)

		domains := svc.Domains()
		domains[0] = "mutated"

		assert.Equal(t, []string{"drop.mail", "alt.mail"}, svc.Domains())
	})
}
