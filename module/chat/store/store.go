package store

import (
	"context"
	"time"

	"PRealtime/module/chat/model"
)

// Store 实时层依赖的持久化操作。找不到记录时返回 errs.ErrNotFound。
type Store interface {
	GetAccount(ctx context.Context, userID string) (*model.Account, error)
	UpdateLastOnline(ctx context.Context, userID string, at time.Time) error

	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	ChatsOf(ctx context.Context, userID string) ([]model.Chat, error)
	TouchChat(ctx context.Context, chatID, lastMessageID string, at time.Time) error

	CreateMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, messageID string) (*model.Message, error)
	RecentMessages(ctx context.Context, chatID string, limit int) ([]model.Message, error)

	// MarkDelivered / MarkRead 返回 changed=false 表示该用户之前已经标记过
	MarkDelivered(ctx context.Context, messageID, userID string) (bool, error)
	MarkRead(ctx context.Context, messageID, userID string) (bool, error)

	AddReaction(ctx context.Context, r model.Reaction) (bool, error)
	RemoveReaction(ctx context.Context, r model.Reaction) (bool, error)
}
