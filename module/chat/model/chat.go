package model

import (
	"time"

	"github.com/samber/lo"
)

const ChatTableName = "chats"

// Chat 会话；participants 是房间成员的唯一来源
type Chat struct {
	ID            string    `bson:"_id" json:"_id"`
	IsGroup       bool      `bson:"isGroup" json:"isGroup"`
	GroupName     string    `bson:"groupName,omitempty" json:"groupName,omitempty"`
	Participants  []string  `bson:"participants" json:"participants"`
	LastMessageID string    `bson:"lastMessageID,omitempty" json:"lastMessageID,omitempty"`
	UpdatedAt     time.Time `bson:"updateAt,omitempty" json:"updateAt,omitempty"`
}

func (c *Chat) HasParticipant(userID string) bool {
	return lo.Contains(c.Participants, userID)
}

// Recipients 参与者去掉发送者（去重）
func (c *Chat) Recipients(senderID string) []string {
	return lo.Without(lo.Uniq(c.Participants), senderID)
}
