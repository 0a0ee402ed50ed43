package domain

import "time"

// Message 表示投递到某个临时邮箱的一封邮件。
//
// MessageID 是对外标识（来自邮件传输层的 Message-ID 头，缺失时由解析
// 器生成随机替代值），在整个存储范围内全局唯一，用于投递去重。
// ReceivedAt 以导入时刻为准，不使用邮件自带的日期头。
type Message struct {
	ID         uint      `json:"-" gorm:"primaryKey;autoIncrement"`
	MessageID  string    `json:"id" gorm:"type:varchar(255);uniqueIndex"`
	Address    string    `json:"-" gorm:"type:varchar(255);index"`
	Sender     string    `json:"from" gorm:"type:varchar(255)"`
	Subject    string    `json:"subject" gorm:"type:varchar(500)"`
	Body       string    `json:"body" gorm:"type:text"`
	ReceivedAt time.Time `json:"receivedAt" gorm:"index"`
}
