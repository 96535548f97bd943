package model

import "time"

const (
	MsgTableName      = "messages"
	ReactionTableName = "messagereactions"
)

// 老客户端使用的 messageStatus 枚举
const (
	MessageStatusDraft = "Draft"
	MessageStatusSend  = "Send"
	MessageStatusSeen  = "Seen"
)

// message-status-update 里的 status
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

type Media struct {
	Type     string `bson:"type,omitempty" json:"type,omitempty"`
	URL      string `bson:"url,omitempty" json:"url,omitempty"`
	FileName string `bson:"fileName,omitempty" json:"fileName,omitempty"`
}

// Message 一条消息。deliveredTo/readBy 每个用户至多出现一次（$addToSet）。
type Message struct {
	ID            string    `bson:"_id" json:"_id"`
	ChatID        string    `bson:"chatID" json:"chatID"`
	SenderID      string    `bson:"senderID" json:"senderID"`
	Text          string    `bson:"text,omitempty" json:"text,omitempty"`
	MessageStatus string    `bson:"messageStatus,omitempty" json:"messageStatus,omitempty"`
	Media         []Media   `bson:"media,omitempty" json:"media,omitempty"`
	DeliveredTo   []string  `bson:"deliveredTo,omitempty" json:"deliveredTo,omitempty"`
	ReadBy        []string  `bson:"readBy,omitempty" json:"readBy,omitempty"`
	CreatedAt     time.Time `bson:"createAt" json:"createAt"`
}

// Status 汇总状态：有人已读 > 有人已送达 > 已发送
func (m *Message) Status() string {
	switch {
	case len(m.ReadBy) > 0:
		return StatusRead
	case len(m.DeliveredTo) > 0:
		return StatusDelivered
	default:
		return StatusSent
	}
}

// Reaction (messageId, userId, emoji) 唯一
type Reaction struct {
	MessageID string    `bson:"messageId" json:"messageId"`
	UserID    string    `bson:"userId" json:"userId"`
	Emoji     string    `bson:"emoji" json:"emoji"`
	CreatedAt time.Time `bson:"createAt" json:"createAt"`
}
