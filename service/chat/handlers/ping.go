package handlers

import "PRealtime/service/chat"

type PingHandler struct{ d *Deps }

func NewPingHandler(d *Deps) chat.Handler { return &PingHandler{d: d} }
func (h *PingHandler) Type() string       { return chat.EventPing }

func (h *PingHandler) Handle(c *chat.Context) error {
	c.Reply(chat.BuildPong(h.d.Clock()))
	return nil
}
