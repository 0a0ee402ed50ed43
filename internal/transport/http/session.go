package httptransport

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/storage"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	sessions *service.SessionService
	log      *zap.Logger
}

type createEmailRequest struct {
	LocalPart string `json:"localPart"`
	Domain    string `json:"domain"`
}

type sessionResponse struct {
	Address   string    `json:"address"`
	LocalPart string    `json:"localPart"`
	Domain    string    `json:"domain"`
	Token     string    `json:"token,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type messageListResponse struct {
	Items []domain.Message `json:"items"`
	Count int              `json:"count"`
}

// createEmail 占用一个邮箱地址。
//
// 所有权令牌只在本次响应中返回一次，之后无法找回。
func (h *Handler) createEmail(c *gin.Context) {
	var req createEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	sess, err := h.sessions.Create(req.LocalPart, req.Domain)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrLocalPartInvalid),
			errors.Is(err, domain.ErrDomainInvalid),
			errors.Is(err, service.ErrDomainNotAllowed):
			BadRequest(c, GetErrorMessage(err))
		case errors.Is(err, storage.ErrAddressTaken):
			Conflict(c, GetErrorMessage(err))
		default:
			h.log.Error("create email failed", zap.Error(err))
			InternalError(c, MsgSessionCreateFailed)
		}
		return
	}

	Created(c, sessionResponse{
		Address:   sess.Address,
		LocalPart: sess.LocalPart,
		Domain:    sess.Domain,
		Token:     sess.OwnerToken,
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
	})
}

// checkEmail 查询地址是否可被占用（只读，不构成预留）。
func (h *Handler) checkEmail(c *gin.Context) {
	available, err := h.sessions.CheckAvailable(c.Query("localPart"), c.Query("domain"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrLocalPartInvalid),
			errors.Is(err, domain.ErrDomainInvalid),
			errors.Is(err, service.ErrDomainNotAllowed):
			BadRequest(c, GetErrorMessage(err))
		default:
			h.log.Error("check email failed", zap.Error(err))
			InternalError(c, MsgSessionCheckFailed)
		}
		return
	}

	Success(c, gin.H{"available": available})
}

// listEmails 返回邮箱内的全部邮件，最新在前。
//
// 所有权验证失败时返回空列表，外部无法借此探测地址是否存在。
func (h *Handler) listEmails(c *gin.Context) {
	address := c.Query("address")
	token := ownerToken(c)

	messages, err := h.sessions.FetchMessages(address, token)
	if err != nil {
		h.log.Error("list emails failed", zap.Error(err))
		InternalError(c, MsgMessageListFailed)
		return
	}

	Success(c, messageListResponse{
		Items: messages,
		Count: len(messages),
	})
}

type sessionActionRequest struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

// endSession 释放会话，邮件立即删除。
func (h *Handler) endSession(c *gin.Context) {
	var req sessionActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if req.Token == "" {
		req.Token = ownerToken(c)
	}

	released, err := h.sessions.End(req.Address, req.Token)
	if err != nil {
		h.log.Error("end session failed", zap.Error(err))
		InternalError(c, MsgSessionEndFailed)
		return
	}
	if !released {
		Forbidden(c, MsgSessionDenied)
		return
	}

	Success(c, gin.H{"released": true})
}

// keepalive 刷新会话活跃时刻。
func (h *Handler) keepalive(c *gin.Context) {
	var req sessionActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}
	if req.Token == "" {
		req.Token = ownerToken(c)
	}

	sess, err := h.sessions.Keepalive(req.Address, req.Token)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			Forbidden(c, MsgSessionDenied)
			return
		}
		h.log.Error("keepalive failed", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}

	Success(c, sessionResponse{
		Address:   sess.Address,
		LocalPart: sess.LocalPart,
		Domain:    sess.Domain,
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
	})
}

// listDomains 返回允许占用的域名列表。
func (h *Handler) listDomains(c *gin.Context) {
	domains := h.sessions.Domains()
	Success(c, gin.H{
		"items": domains,
		"count": len(domains),
	})
}

// health 返回服务健康状态与当前生效的会话生命周期参数。
func (h *Handler) health(c *gin.Context) {
	status := h.sessions.Health()
	policy := h.sessions.Policy()
	Success(c, gin.H{
		"status":     status.Status,
		"domain":     status.Domain,
		"ttlSeconds": int(policy.TTL.Seconds()),
	})
}

// ownerToken 从请求头或查询参数中提取所有权令牌。
func ownerToken(c *gin.Context) string {
	if token := c.GetHeader("X-Owner-Token"); token != "" {
		return token
	}
	return c.Query("token")
}
