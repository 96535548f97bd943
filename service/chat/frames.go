package chat

import (
	"encoding/json"
	"time"

	"PRealtime/tools/errs"
)

// Frame 出站帧：{"event": "...", "data": ...}
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Inbound 入站帧，data 延迟到具体 handler 再解码
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func ParseFrameJSON(raw []byte) (*Inbound, error) {
	in := &Inbound{}
	if err := json.Unmarshal(raw, in); err != nil {
		return nil, errs.ErrMalformedEvent.WrapMsg("unmarshal frame failed", "err", err)
	}
	if in.Event == "" {
		return nil, errs.ErrMalformedEvent.WrapMsg("frame without event")
	}
	return in, nil
}

func (f Frame) Encode() ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, errs.WrapMsg(err, "encode frame", "event", f.Event)
	}
	return b, nil
}

// ---- 构造若干服务端回执 ----

type ErrorPayload struct {
	Event   string `json:"event"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// BuildErrorFrame event-error 回给发送方
func BuildErrorFrame(event string, err error) Frame {
	p := ErrorPayload{Event: event, Code: errs.Code(err), Message: err.Error()}
	if ce, ok := errs.As(err); ok {
		p.Message = ce.Msg
		if ce.Detail != "" {
			p.Message += ": " + ce.Detail
		}
	}
	return Frame{Event: EventError, Data: p}
}

type UserStatus struct {
	UserID     string     `json:"userId"`
	IsOnline   bool       `json:"isOnline"`
	LastOnline *time.Time `json:"lastOnline,omitempty"`
}

func BuildUserStatus(userID string, online bool, lastOnline *time.Time) Frame {
	return Frame{Event: EventUserStatus, Data: UserStatus{UserID: userID, IsOnline: online, LastOnline: lastOnline}}
}

type RegistrationAck struct {
	UserID       string   `json:"userId"`
	ConnectionID string   `json:"connectionId"`
	Rooms        []string `json:"rooms"`
	Node         string   `json:"node,omitempty"`
}

func BuildPong(now time.Time) Frame {
	return Frame{Event: EventPong, Data: map[string]int64{"timestamp": now.UnixMilli()}}
}
