package handlers

import (
	"PRealtime/service/chat"
)

type CallHandler struct {
	d     *Deps
	event string
}

func NewCallHandler(d *Deps, event string) chat.Handler { return &CallHandler{d: d, event: event} }
func (h *CallHandler) Type() string                     { return h.event }

func (h *CallHandler) Handle(c *chat.Context) error {
	_, err := h.d.Calls.Route(h.event, c.ConnID(), c.UserID(), c.Data)
	return err
}
