package domain

import (
	"time"
)

// Session 表示一次临时邮箱地址的占用记录。
//
// 同一地址在任意时刻最多存在一个处于激活且未过期状态的 Session。
// OwnerToken 是唯一的所有权凭证，持有者才能读取或释放该邮箱。
type Session struct {
	Address        string    `json:"address" gorm:"primaryKey;type:varchar(255)"`
	LocalPart      string    `json:"localPart" gorm:"type:varchar(255)"`
	Domain         string    `json:"domain" gorm:"type:varchar(100);index"`
	OwnerToken     string    `json:"-" gorm:"type:varchar(255);uniqueIndex"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt" gorm:"index"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	Active         bool      `json:"active" gorm:"default:true"`

	// 级联删除：Session 销毁时其全部邮件一并删除
	Messages []Message `json:"-" gorm:"foreignKey:Address;references:Address;constraint:OnDelete:CASCADE"`
}

// Health 表示服务健康状态。
type Health struct {
	Status string `json:"status"`
	Domain string `json:"domain"`
}
