package chat

import (
	"PRealtime/tools/errs"

	"go.uber.org/zap"
)

type Dispatcher struct {
	handlers map[string]Handler
	observe  func(event string, err error)
	log      *zap.Logger
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{handlers: make(map[string]Handler), log: log.Named("dispatch")}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Type()] = h }

// Alias 让另一个事件名走同一个 handler（register-user -> register）
func (d *Dispatcher) Alias(alias, event string) {
	if h, ok := d.handlers[event]; ok {
		d.handlers[alias] = h
	}
}

// Observe 每次分发结束回调（指标）
func (d *Dispatcher) Observe(fn func(event string, err error)) { d.observe = fn }

func (d *Dispatcher) GetHandler(event string) Handler {
	h, ok := d.handlers[event]
	if !ok {
		return nil
	}
	return h
}

// Dispatch 调用 handler；panic 被恢复为 ErrInternal，不会打断读循环
func (d *Dispatcher) Dispatch(c *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
			d.log.Error("handler panic", zap.String("event", c.Event), zap.String("conn", c.ConnID()), zap.Error(err))
		}
		if d.observe != nil {
			d.observe(c.Event, err)
		}
	}()

	h := d.GetHandler(c.Event)
	if h == nil {
		return errs.ErrMalformedEvent.WrapMsg("unknown event", "event", c.Event)
	}
	return h.Handle(c)
}

// Surface 是否需要把错误以 event-error 回给客户端
func Surface(err error) bool {
	switch errs.Code(err) {
	case errs.MalformedEvent, errs.NotFound, errs.InvalidState:
		return true
	}
	return false
}
