package memory

import (
	"sort"
	"sync"
	"time"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/storage"
)

// Store 使用内存保存会话与邮件数据，用于开发环境和测试。
//
// 所有方法都在同一把锁下完成，天然满足"每个存储操作是一个事务单元"
// 的要求：同一地址的并发占用只会有一个赢家。
type Store struct {
	mu         sync.RWMutex
	sessions   map[string]*domain.Session   // address -> session
	byToken    map[string]string            // ownerToken -> address（唯一二级键）
	messages   map[string][]*domain.Message // address -> 按插入顺序保存的邮件
	messageIDs map[string]struct{}          // 外部 MessageID 全局去重集合
	nextID     uint                         // 自增主键，对齐 SQL 实现的插入序
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		sessions:   make(map[string]*domain.Session),
		byToken:    make(map[string]string),
		messages:   make(map[string][]*domain.Message),
		messageIDs: make(map[string]struct{}),
	}
}

// CreateSession 原子地占用地址。
//
// 冲突判定以新会话的 CreatedAt 作为当前时刻，保证同一批并发请求下
// 行为可复现：激活且未过期的占用者导致 ErrAddressTaken，陈旧记录
// （已释放或已过期）连同其邮件一并删除后再插入。
func (s *Store) CreateSession(sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := sess.CreatedAt
	if existing, ok := s.sessions[sess.Address]; ok {
		if !domain.Claimable(existing, now) {
			return storage.ErrAddressTaken
		}
		s.deleteSessionLocked(sess.Address)
	}

	s.sessions[sess.Address] = sess
	s.byToken[sess.OwnerToken] = sess.Address
	return nil
}

// GetSession 返回地址对应的会话记录。
func (s *Store) GetSession(address string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[address]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	copied := *sess
	return &copied, nil
}

// TouchSession 更新会话的最近活跃时刻。
func (s *Store) TouchSession(address string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[address]
	if !ok {
		return storage.ErrSessionNotFound
	}
	sess.LastActivityAt = at
	return nil
}

// ReleaseSession 标记会话为非激活并删除其全部邮件。
func (s *Store) ReleaseSession(address string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[address]
	if !ok {
		return storage.ErrSessionNotFound
	}
	sess.Active = false
	sess.LastActivityAt = at
	s.deleteMessagesLocked(address)
	return nil
}

// SweepExpired 删除应被清扫的会话及其邮件，返回删除的会话数量。
func (s *Store) SweepExpired(now time.Time, grace time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for address, sess := range s.sessions {
		if domain.Sweepable(sess, now, grace) {
			s.deleteSessionLocked(address)
			count++
		}
	}
	return count, nil
}

// CountSessions 返回当前会话总数。
func (s *Store) CountSessions() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// AppendMessage 追加一封邮件，收件地址无激活会话或 MessageID 重复时
// 静默拒绝。
func (s *Store) AppendMessage(msg *domain.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[msg.Address]
	if !ok || !sess.Active || domain.Expired(sess, msg.ReceivedAt) {
		return false, nil
	}
	if _, dup := s.messageIDs[msg.MessageID]; dup {
		return false, nil
	}

	s.nextID++
	msg.ID = s.nextID
	s.messageIDs[msg.MessageID] = struct{}{}
	s.messages[msg.Address] = append(s.messages[msg.Address], msg)
	return true, nil
}

// ListMessages 返回地址下的全部邮件，按接收时间倒序，同一时刻的邮件
// 后入库的在前。
func (s *Store) ListMessages(address string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.messages[address]
	result := make([]domain.Message, 0, len(stored))
	for _, msg := range stored {
		result = append(result, *msg)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].ReceivedAt.Equal(result[j].ReceivedAt) {
			return result[i].ReceivedAt.After(result[j].ReceivedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// DeleteAllMessages 删除地址下的全部邮件，返回删除数量。
func (s *Store) DeleteAllMessages(address string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteMessagesLocked(address), nil
}

// CountMessages 返回当前邮件总数。
func (s *Store) CountMessages() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, msgs := range s.messages {
		total += len(msgs)
	}
	return total, nil
}

// Close 关闭存储（内存实现无事可做）。
func (s *Store) Close() error {
	return nil
}

// Health 检查存储健康状态。
func (s *Store) Health() error {
	return nil
}

func (s *Store) deleteSessionLocked(address string) {
	if sess, ok := s.sessions[address]; ok {
		delete(s.byToken, sess.OwnerToken)
	}
	delete(s.sessions, address)
	s.deleteMessagesLocked(address)
}

func (s *Store) deleteMessagesLocked(address string) int {
	msgs := s.messages[address]
	for _, msg := range msgs {
		delete(s.messageIDs, msg.MessageID)
	}
	delete(s.messages, address)
	return len(msgs)
}
