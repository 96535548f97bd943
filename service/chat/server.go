package chat

import (
	"go.uber.org/zap"
)

// Server 把 Hub 和 Dispatcher 接到 WebSocket 上
type Server struct {
	hub  *Hub
	disp *Dispatcher
	log  *zap.Logger
}

func NewServer(hub *Hub, disp *Dispatcher, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{hub: hub, disp: disp, log: log.Named("ws")}
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Disp() *Dispatcher { return s.disp }
