// Package service 实现临时邮箱的业务逻辑层。
package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"dropmail/backend/internal/config"
	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/monitoring"
	"dropmail/backend/internal/storage"
)

var (
	// ErrDomainNotAllowed 请求的域名不在允许列表中
	ErrDomainNotAllowed = errors.New("domain not allowed")
)

// ownerTokenBytes 所有权令牌的随机字节长度（base64url 编码后 43 字符）
const ownerTokenBytes = 32

// SessionService 管理邮箱会话的完整生命周期：占用、续期、读取和释放。
type SessionService struct {
	store     storage.Store
	domains   []string
	domainSet map[string]struct{}
	policy    domain.ExpiryPolicy
	log       *zap.Logger
	metrics   *monitoring.Metrics
	now       func() time.Time
}

// SessionOption 配置 SessionService 的可选依赖。
type SessionOption func(*SessionService)

// WithMetrics 设置监控指标。
func WithMetrics(m *monitoring.Metrics) SessionOption {
	return func(s *SessionService) { s.metrics = m }
}

// WithClock 替换时间源（测试用）。
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionService) { s.now = now }
}

// NewSessionService 创建会话服务。
func NewSessionService(store storage.Store, cfg config.MailboxConfig, log *zap.Logger, opts ...SessionOption) *SessionService {
	set := make(map[string]struct{}, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		set[strings.ToLower(d)] = struct{}{}
	}
	svc := &SessionService{
		store:     store,
		domains:   cfg.AllowedDomains,
		domainSet: set,
		policy: domain.ExpiryPolicy{
			TTL:         cfg.TTL,
			GraceWindow: cfg.GraceWindow,
		},
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Policy 返回当前生效的生命周期策略。
func (s *SessionService) Policy() domain.ExpiryPolicy {
	return s.policy
}

// Domains 返回允许占用的域名列表。
func (s *SessionService) Domains() []string {
	out := make([]string, len(s.domains))
	copy(out, s.domains)
	return out
}

// Create 占用一个邮箱地址并签发所有权令牌。
//
// localPart 在校验前统一转小写；domainName 为空时使用第一个允许域名。
// 地址被激活且未过期的会话占用时返回 storage.ErrAddressTaken。
func (s *SessionService) Create(localPart, domainName string) (*domain.Session, error) {
	localPart = strings.ToLower(strings.TrimSpace(localPart))
	if err := domain.ValidateLocalPart(localPart); err != nil {
		return nil, err
	}

	domainName, err := s.pickDomain(domainName)
	if err != nil {
		return nil, err
	}

	token, err := newOwnerToken()
	if err != nil {
		return nil, fmt.Errorf("generate owner token: %w", err)
	}

	now := s.now()
	sess := &domain.Session{
		Address:        localPart + "@" + domainName,
		LocalPart:      localPart,
		Domain:         domainName,
		OwnerToken:     token,
		CreatedAt:      now,
		ExpiresAt:      s.policy.Deadline(now),
		LastActivityAt: now,
		Active:         true,
	}

	if err := s.store.CreateSession(sess); err != nil {
		if errors.Is(err, storage.ErrAddressTaken) && s.metrics != nil {
			s.metrics.SessionConflicts.Inc()
		}
		return nil, err
	}

	s.log.Info("session created",
		zap.String("address", sess.Address),
		zap.Time("expires_at", sess.ExpiresAt),
	)
	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}
	return sess, nil
}

// CheckAvailable 判断地址当前是否可被占用。
//
// 只读探测，结果不构成任何预留：返回可用后该地址仍可能被他人抢先占用。
func (s *SessionService) CheckAvailable(localPart, domainName string) (bool, error) {
	localPart = strings.ToLower(strings.TrimSpace(localPart))
	if err := domain.ValidateLocalPart(localPart); err != nil {
		return false, err
	}
	domainName, err := s.pickDomain(domainName)
	if err != nil {
		return false, err
	}

	sess, err := s.store.GetSession(localPart + "@" + domainName)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return domain.Claimable(sess, s.now()), nil
}

// VerifyOwnership 验证令牌对地址的所有权。
//
// 地址不存在、令牌不匹配、会话已释放或已过期统一返回
// storage.ErrSessionNotFound，不向调用方泄露具体失败原因。
func (s *SessionService) VerifyOwnership(address, token string) (*domain.Session, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" || token == "" {
		return nil, storage.ErrSessionNotFound
	}

	sess, err := s.store.GetSession(address)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(sess.OwnerToken), []byte(token)) != 1 {
		return nil, storage.ErrSessionNotFound
	}
	if !sess.Active || domain.Expired(sess, s.now()) {
		return nil, storage.ErrSessionNotFound
	}
	return sess, nil
}

// FetchMessages 返回地址下的全部邮件，按接收时间倒序。
//
// 所有权验证失败时返回空列表而非错误，外部无法借此探测地址是否存在。
// 验证成功的读取会刷新会话的最近活跃时刻。
func (s *SessionService) FetchMessages(address, token string) ([]domain.Message, error) {
	sess, err := s.VerifyOwnership(address, token)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return []domain.Message{}, nil
		}
		return nil, err
	}

	if err := s.store.TouchSession(sess.Address, s.now()); err != nil {
		s.log.Warn("failed to touch session",
			zap.String("address", sess.Address),
			zap.Error(err),
		)
	}
	return s.store.ListMessages(sess.Address)
}

// Keepalive 刷新会话的最近活跃时刻，返回会话当前状态。
func (s *SessionService) Keepalive(address, token string) (*domain.Session, error) {
	sess, err := s.VerifyOwnership(address, token)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.store.TouchSession(sess.Address, now); err != nil {
		return nil, err
	}
	sess.LastActivityAt = now
	return sess, nil
}

// End 释放会话：邮件立即级联删除，会话记录保留到宽限窗口结束。
//
// 返回 released 表示本次调用是否实际释放了一个激活会话；所有权验证
// 失败时返回 (false, nil)。
func (s *SessionService) End(address, token string) (bool, error) {
	sess, err := s.VerifyOwnership(address, token)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := s.store.ReleaseSession(sess.Address, s.now()); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}

	s.log.Info("session released", zap.String("address", sess.Address))
	if s.metrics != nil {
		s.metrics.SessionsReleased.Inc()
	}
	return true, nil
}

// Sweep 执行一轮过期清扫，返回销毁的会话数量。
func (s *SessionService) Sweep() (int, error) {
	removed, err := s.store.SweepExpired(s.now(), s.policy.GraceWindow)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.log.Info("expired sessions swept", zap.Int("removed", removed))
		if s.metrics != nil {
			s.metrics.SessionsSwept.Add(float64(removed))
		}
	}
	if s.metrics != nil {
		if sessions, err := s.store.CountSessions(); err == nil {
			s.metrics.SessionsActive.Set(float64(sessions))
		}
		if messages, err := s.store.CountMessages(); err == nil {
			s.metrics.MessagesTotal.Set(float64(messages))
		}
	}
	return removed, nil
}

// Health 返回服务健康状态。
func (s *SessionService) Health() domain.Health {
	status := "ok"
	if err := s.store.Health(); err != nil {
		status = "degraded"
	}
	return domain.Health{
		Status: status,
		Domain: s.domains[0],
	}
}

// pickDomain 选取并校验目标域名，空值退回第一个允许域名。
func (s *SessionService) pickDomain(domainName string) (string, error) {
	domainName = strings.ToLower(strings.TrimSpace(domainName))
	if domainName == "" {
		return s.domains[0], nil
	}
	if err := domain.ValidateDomain(domainName); err != nil {
		return "", err
	}
	if _, ok := s.domainSet[domainName]; !ok {
		return "", ErrDomainNotAllowed
	}
	return domainName, nil
}

// newOwnerToken 生成加密随机的所有权令牌。
func newOwnerToken() (string, error) {
	buf := make([]byte, ownerTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
