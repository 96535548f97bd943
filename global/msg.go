package global

import "PRealtime/tools/errs"

// Msg 管理接口统一响应
type Msg struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

func Success(data any) *Msg {
	return &Msg{Code: 200, Data: data}
}

func Fail(err error) *Msg {
	ce, ok := errs.As(err)
	if !ok {
		return &Msg{Code: errs.ServerInternalError, Msg: err.Error()}
	}
	m := &Msg{Code: ce.Code, Msg: ce.Msg}
	if ce.Detail != "" {
		m.Msg += ": " + ce.Detail
	}
	return m
}
