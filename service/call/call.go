package call

import (
	"encoding/json"
	"time"

	"PRealtime/service/chat"
	"PRealtime/service/delivery"
	"PRealtime/tools/decode"
	"PRealtime/tools/errs"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ReasonReceiverOffline call-failed 的原因
const ReasonReceiverOffline = "Receiver is offline"

// Locator 把用户解析到存活连接（*delivery.Resolver）
type Locator interface {
	ResolveRecipients(userIDs []string) []delivery.Target
}

// Emitter 单播（*chat.Hub）
type Emitter interface {
	Unicast(connID string, f chat.Frame) bool
}

type route struct {
	out  string
	both bool // 通知双方
}

var routes = map[string]route{
	chat.EventCallInitiate:    {out: chat.EventIncomingCall},
	chat.EventCallAnswer:      {out: chat.EventCallAnswered},
	chat.EventCallDecline:     {out: chat.EventCallDeclined},
	chat.EventCallEnd:         {out: chat.EventCallEnded, both: true},
	chat.EventCallForceEnd:    {out: chat.EventCallForceEnd, both: true},
	chat.EventCallMute:        {out: chat.EventCallMuteStatus},
	chat.EventCallVideoToggle: {out: chat.EventCallVideoStatus},
}

// Events 路由器能处理的入站事件
func Events() []string { return lo.Keys(routes) }

// Result 一次路由的结果
type Result struct {
	Targets   []delivery.Target
	Delivered int
	Failed    bool // 只有 call-initiate 会失败
}

// Router 只做转发，不保存通话状态
type Router struct {
	locator Locator
	emitter Emitter
	now     func() time.Time
	log     *zap.Logger
}

func NewRouter(l Locator, e Emitter, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{locator: l, emitter: e, now: time.Now, log: log.Named("call")}
}

// Route 解析对端并单播。payload 原样转发（SDP 等字段由客户端自定义），
// 补上 callId 和 timestamp。
func (r *Router) Route(event, fromConn, fromUser string, raw json.RawMessage) (Result, error) {
	rt, ok := routes[event]
	if !ok {
		return Result{}, errs.ErrMalformedEvent.WrapMsg("not a call event", "event", event)
	}
	p, err := decode.ToMap(raw, "")
	if err != nil {
		return Result{}, err
	}

	callerID, _ := decode.ReadString(p, "callerId")
	receiverID, _ := decode.ReadString(p, "receiverId")
	sender := fromUser
	if uid, ok := decode.ReadString(p, "userId"); ok {
		sender = uid
	}

	var targets []string
	switch {
	case event == chat.EventCallInitiate:
		if callerID == "" {
			callerID = fromUser
			p["callerId"] = callerID
		}
		if receiverID == "" || callerID == "" {
			return Result{}, errs.ErrMalformedEvent.WrapMsg("callerId and receiverId are required")
		}
		if _, ok := decode.ReadString(p, "callId"); !ok {
			p["callId"] = uuid.NewString()
		}
		targets = []string{receiverID}
	case rt.both:
		if callerID == "" || receiverID == "" {
			return Result{}, errs.ErrMalformedEvent.WrapMsg("callerId and receiverId are required")
		}
		if _, ok := p["endedBy"]; !ok && sender != "" {
			p["endedBy"] = sender
		}
		targets = []string{callerID, receiverID}
	case event == chat.EventCallAnswer || event == chat.EventCallDecline:
		if callerID == "" {
			return Result{}, errs.ErrMalformedEvent.WrapMsg("callerId is required")
		}
		targets = []string{callerID}
	default:
		// mute / video-toggle：显式 targetId，否则取另一方
		t, ok := decode.ReadString(p, "targetId")
		if !ok {
			t = counterpart(sender, callerID, receiverID)
		}
		if t == "" {
			return Result{}, errs.ErrMalformedEvent.WrapMsg("targetId is required")
		}
		targets = []string{t}
	}

	p["timestamp"] = r.now().UnixMilli()
	frame := chat.Frame{Event: rt.out, Data: p}

	res := Result{Targets: r.locator.ResolveRecipients(targets)}
	for _, t := range res.Targets {
		if t.Reachable && r.emitter.Unicast(t.ConnectionID, frame) {
			res.Delivered++
		}
	}

	if event == chat.EventCallInitiate && res.Delivered == 0 {
		res.Failed = true
		r.emitter.Unicast(fromConn, chat.Frame{Event: chat.EventCallFailed, Data: map[string]any{
			"callId":     p["callId"],
			"receiverId": receiverID,
			"reason":     ReasonReceiverOffline,
		}})
		r.log.Info("call failed, receiver offline",
			zap.String("callerId", callerID), zap.String("receiverId", receiverID))
	}
	return res, nil
}

func counterpart(self, callerID, receiverID string) string {
	switch self {
	case callerID:
		return receiverID
	case receiverID:
		return callerID
	}
	return ""
}
