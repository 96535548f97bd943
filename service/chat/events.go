package chat

// 入站事件
const (
	EventRegister          = "register"
	EventRegisterUser      = "register-user"
	EventJoinRoom          = "join-room"
	EventLeaveRoom         = "leave-room"
	EventSendMessage       = "send-message"
	EventReactionAdded     = "reaction-added"
	EventReactionRemoved   = "reaction-removed"
	EventMessageDelivered  = "message-delivered"
	EventMessageRead       = "message-read"
	EventSyncMessageStatus = "sync-message-status"
	EventTypingStart       = "typing-start"
	EventTypingStop        = "typing-stop"
	EventTyping            = "typing"
	EventCallInitiate      = "call-initiate"
	EventCallAnswer        = "call-answer"
	EventCallDecline       = "call-decline"
	EventCallEnd           = "call-end"
	EventCallForceEnd      = "call-force-end"
	EventCallMute          = "call-mute"
	EventCallVideoToggle   = "call-video-toggle"
	EventUserLogout        = "user-logout"
	EventPing              = "ping"
)

// 出站事件
const (
	EventUserStatus           = "user-status"
	EventRegistrationVerified = "registration-verified"
	EventRoomJoined           = "room-joined"
	EventReceiveMessage       = "receive-message"
	EventChatListUpdate       = "chat-list-update"
	EventMessageStatusUpdate  = "message-status-update"
	EventUserTyping           = "user-typing"
	EventIncomingCall         = "incoming-call"
	EventCallAnswered         = "call-answered"
	EventCallDeclined         = "call-declined"
	EventCallEnded            = "call-ended"
	EventCallMuteStatus       = "call-mute-status"
	EventCallVideoStatus      = "call-video-status"
	EventCallFailed           = "call-failed"
	EventPong                 = "pong"
	EventError                = "event-error"
)
