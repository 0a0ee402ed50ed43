package sql

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
)

// CreateSession 在单个事务内原子地占用地址。
//
// 先提交的事务胜出；并发的竞争者要么看到激活占用返回
// ErrAddressTaken，要么在插入时撞上主键冲突，同样映射为
// ErrAddressTaken。
func (s *Store) CreateSession(sess *domain.Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(
		`SELECT active, expires_at FROM sessions WHERE address = %s`,
		s.placeholder(1),
	)

	var active bool
	var expiresAt time.Time
	err = tx.QueryRow(query, sess.Address).Scan(&active, &expiresAt)
	switch {
	case err == nil:
		if active && sess.CreatedAt.Before(expiresAt) {
			return storage.ErrAddressTaken
		}
		// 陈旧记录：级联删除后重新占用（邮件由外键级联删除）
		del := fmt.Sprintf(`DELETE FROM sessions WHERE address = %s`, s.placeholder(1))
		if _, err := tx.Exec(del, sess.Address); err != nil {
			return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
	case errors.Is(err, sql.ErrNoRows):
		// 地址空闲，直接插入
	default:
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	insert := fmt.Sprintf(
		`INSERT INTO sessions
			(address, local_part, domain, owner_token, created_at, expires_at, last_activity_at, active)
		 VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3), s.placeholder(4),
		s.placeholder(5), s.placeholder(6), s.placeholder(7), s.placeholder(8),
	)
	if _, err := tx.Exec(insert,
		sess.Address, sess.LocalPart, sess.Domain, sess.OwnerToken,
		sess.CreatedAt, sess.ExpiresAt, sess.LastActivityAt, sess.Active,
	); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAddressTaken
		}
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAddressTaken
		}
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// GetSession 返回地址对应的会话记录。
func (s *Store) GetSession(address string) (*domain.Session, error) {
	query := fmt.Sprintf(
		`SELECT address, local_part, domain, owner_token, created_at, expires_at, last_activity_at, active
		 FROM sessions WHERE address = %s`,
		s.placeholder(1),
	)

	var sess domain.Session
	err := s.db.QueryRow(query, address).Scan(
		&sess.Address, &sess.LocalPart, &sess.Domain, &sess.OwnerToken,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.LastActivityAt, &sess.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return &sess, nil
}

// TouchSession 更新会话的最近活跃时刻。
func (s *Store) TouchSession(address string, at time.Time) error {
	query := fmt.Sprintf(
		`UPDATE sessions SET last_activity_at = %s WHERE address = %s`,
		s.placeholder(1), s.placeholder(2),
	)
	result, err := s.db.Exec(query, at, address)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return storage.ErrSessionNotFound
	}
	return nil
}

// ReleaseSession 标记会话为非激活并删除其全部邮件，记录保留到宽限窗
// 口结束后由 SweepExpired 清除。
func (s *Store) ReleaseSession(address string, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer tx.Rollback()

	update := fmt.Sprintf(
		`UPDATE sessions SET active = %s, last_activity_at = %s WHERE address = %s`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3),
	)
	result, err := tx.Exec(update, false, at, address)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return storage.ErrSessionNotFound
	}

	del := fmt.Sprintf(`DELETE FROM messages WHERE address = %s`, s.placeholder(1))
	if _, err := tx.Exec(del, address); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// SweepExpired 删除已过期、或已释放且空闲超过 grace 的会话，邮件由
// 外键级联删除，返回删除的会话数量。
func (s *Store) SweepExpired(now time.Time, grace time.Duration) (int, error) {
	query := fmt.Sprintf(
		`DELETE FROM sessions
		 WHERE expires_at < %s OR (active = %s AND last_activity_at < %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3),
	)
	result, err := s.db.Exec(query, now, false, now.Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// CountSessions 返回当前会话总数。
func (s *Store) CountSessions() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return count, nil
}
