package model

import "time"

const AccountTableName = "accounts"

// Account 账号（只取实时层用到的字段）
type Account struct {
	ID         string     `bson:"_id" json:"_id"`
	Username   string     `bson:"username,omitempty" json:"username,omitempty"`
	Fullname   string     `bson:"fullname,omitempty" json:"fullname,omitempty"`
	ImageURL   string     `bson:"imageURL,omitempty" json:"imageURL,omitempty"`
	FCMToken   string     `bson:"fcmToken,omitempty" json:"-"`                      // 推送 token，不下发给客户端
	LastOnline *time.Time `bson:"lastOnline,omitempty" json:"lastOnline,omitempty"` // 最近一次离线时间
}

// DisplayName 推送标题里用的名字
func (a *Account) DisplayName() string {
	switch {
	case a == nil:
		return ""
	case a.Fullname != "":
		return a.Fullname
	default:
		return a.Username
	}
}
