package httptransport

import (
	"dropmail/backend/internal/domain"
	"dropmail/backend/internal/service"
	"dropmail/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	domain.ErrLocalPartInvalid:  "邮箱前缀格式无效",
	domain.ErrDomainInvalid:     "域名格式无效",
	service.ErrDomainNotAllowed: "域名不在允许列表中",
	storage.ErrAddressTaken:     "该地址已被占用",
	storage.ErrSessionNotFound:  "会话不存在",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest = "请求参数格式错误"

	// 会话相关
	MsgSessionCreateFailed = "创建邮箱失败"
	MsgSessionCheckFailed  = "查询地址状态失败"
	MsgSessionEndFailed    = "结束会话失败"
	MsgSessionDenied       = "会话不存在或无权访问"

	// 邮件相关
	MsgMessageListFailed = "获取邮件列表失败"

	// 服务器错误
	MsgInternalError = "服务器内部错误，请稍后重试"
)
