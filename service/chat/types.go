package chat

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

type Handler interface {
	Type() string
	Handle(*Context) error
}

// Context 单个入站事件的处理上下文
type Context struct {
	context.Context
	Hub     *Hub
	Session *Session
	Event   string
	Data    json.RawMessage
	Log     *zap.Logger
}

func (c *Context) ConnID() string { return c.Session.ID() }

// UserID 连接上缓存的身份（未注册为空）
func (c *Context) UserID() string { return c.Session.UserID() }

func (c *Context) Reply(f Frame) bool { return c.Session.Send(f) }
