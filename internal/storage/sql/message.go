package sql

import (
	"database/sql"
	"errors"
	"fmt"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
)

// AppendMessage 在单个事务内追加一封邮件。
//
// 收件地址没有激活且未过期的会话、或外部 MessageID 已存在时静默拒绝
// （返回 false，无错误）。唯一索引兜底并发下的重复插入。
func (s *Store) AppendMessage(msg *domain.Message) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer tx.Rollback()

	gate := fmt.Sprintf(
		`SELECT 1 FROM sessions WHERE address = %s AND active = %s AND expires_at > %s`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3),
	)
	var one int
	err = tx.QueryRow(gate, msg.Address, true, msg.ReceivedAt).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	dup := fmt.Sprintf(`SELECT 1 FROM messages WHERE message_id = %s`, s.placeholder(1))
	err = tx.QueryRow(dup, msg.MessageID).Scan(&one)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	insert := fmt.Sprintf(
		`INSERT INTO messages (message_id, address, sender, subject, body, received_at)
		 VALUES (%s, %s, %s, %s, %s, %s)`,
		s.placeholder(1), s.placeholder(2), s.placeholder(3),
		s.placeholder(4), s.placeholder(5), s.placeholder(6),
	)
	if _, err := tx.Exec(insert,
		msg.MessageID, msg.Address, msg.Sender, msg.Subject, msg.Body, msg.ReceivedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return true, nil
}

// ListMessages 返回地址下的全部邮件，按接收时间倒序。
func (s *Store) ListMessages(address string) ([]domain.Message, error) {
	query := fmt.Sprintf(
		`SELECT id, message_id, address, sender, subject, body, received_at
		 FROM messages WHERE address = %s
		 ORDER BY received_at DESC, id DESC`,
		s.placeholder(1),
	)
	rows, err := s.db.Query(query, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	defer rows.Close()

	result := make([]domain.Message, 0)
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID, &msg.MessageID, &msg.Address,
			&msg.Sender, &msg.Subject, &msg.Body, &msg.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return result, nil
}

// DeleteAllMessages 删除地址下的全部邮件，返回删除数量。
func (s *Store) DeleteAllMessages(address string) (int, error) {
	query := fmt.Sprintf(`DELETE FROM messages WHERE address = %s`, s.placeholder(1))
	result, err := s.db.Exec(query, address)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// CountMessages 返回当前邮件总数。
func (s *Store) CountMessages() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return count, nil
}
