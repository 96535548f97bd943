package natsx

import (
	"context"
	"encoding/json"
	"time"

	"PRealtime/tools/errs"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// 领域事件类型，subject = <prefix>.<kind>
const (
	KindUserStatus    = "user.status"
	KindMessageSent   = "message.sent"
	KindMessageStatus = "message.status"
)

// MsgIDHeader 供下游做幂等
const MsgIDHeader = nats.MsgIdHdr

// Publisher 领域事件总线
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) error
}

// MsgPublisher 是 *nats.Conn 用到的部分
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// Envelope 总线消息体
type Envelope struct {
	ID      string    `json:"id"`
	Kind    string    `json:"kind"`
	Node    string    `json:"node"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// NatsxProducer 生产端
type NatsxProducer struct {
	c      MsgPublisher
	prefix string
	node   string
	log    *zap.Logger
}

func NewNatsxProducer(c MsgPublisher, prefix, node string, log *zap.Logger) *NatsxProducer {
	if log == nil {
		log = zap.NewNop()
	}
	return &NatsxProducer{c: c, prefix: prefix, node: node, log: log.Named("bus")}
}

func (p *NatsxProducer) Subject(kind string) string {
	if p.prefix == "" {
		return kind
	}
	return p.prefix + "." + kind
}

func (p *NatsxProducer) Publish(ctx context.Context, kind string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env := Envelope{ID: uuid.NewString(), Kind: kind, Node: p.node, At: time.Now().UTC(), Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return errs.WrapMsg(err, "encode event", "kind", kind)
	}
	msg := nats.NewMsg(p.Subject(kind))
	msg.Data = data
	msg.Header.Set(MsgIDHeader, env.ID)
	if err := p.c.PublishMsg(msg); err != nil {
		return errs.ErrExternal.WrapMsg("nats publish", "subject", msg.Subject, "err", err)
	}
	return nil
}

// NopPublisher 未配置 NATS 时使用
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }
