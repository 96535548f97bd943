package handlers

import (
	"context"

	"PRealtime/service/call"
	"PRealtime/service/chat"
	"PRealtime/service/journal"
)

// Register 挂载全部入站事件和连接生命周期回调
func Register(disp *chat.Dispatcher, d *Deps) {
	d.norm()

	disp.Register(NewRegisterHandler(d))
	disp.Alias(chat.EventRegisterUser, chat.EventRegister)
	disp.Register(NewJoinRoomHandler(d))
	disp.Register(NewLeaveRoomHandler(d))
	disp.Register(NewSendMessageHandler(d))
	disp.Register(NewReactionHandler(d, chat.EventReactionAdded))
	disp.Register(NewReactionHandler(d, chat.EventReactionRemoved))
	disp.Register(NewMarkerHandler(d, chat.EventMessageDelivered))
	disp.Register(NewMarkerHandler(d, chat.EventMessageRead))
	disp.Register(NewSyncStatusHandler(d))
	disp.Register(NewTypingHandler(d, chat.EventTypingStart))
	disp.Register(NewTypingHandler(d, chat.EventTypingStop))
	disp.Register(NewTypingHandler(d, chat.EventTyping))
	for _, ev := range call.Events() {
		disp.Register(NewCallHandler(d, ev))
	}
	disp.Register(NewLogoutHandler(d))
	disp.Register(NewPingHandler(d))

	disp.Observe(d.Metrics.Event)

	d.Hub.OnOpen(func(info chat.SessionInfo) {
		d.Metrics.ConnOpened()
		d.record(context.Background(), info.ID, "", journal.KindOpen)
	})
	d.Hub.OnClose(NewDisconnectHook(d))
}
