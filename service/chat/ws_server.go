package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgraded = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

// HandleWS GET /ws
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgraded.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		s.log.Info("upgrade websocket failed", zap.Error(err))
		return
	}
	s.Serve(c.Request.Context(), ws)
}

// Serve 接管一条已升级的连接，直到它关闭
func (s *Server) Serve(ctx context.Context, w Wire) {
	conf := s.hub.conf
	sess := s.hub.Open(w)

	w.SetReadLimit(conf.MaxMessageBytes)
	_ = w.SetReadDeadline(conf.Clock().Add(conf.ReadTimeout))
	w.SetPongHandler(func(string) error {
		now := conf.Clock()
		sess.touch(now)
		return w.SetReadDeadline(now.Add(conf.ReadTimeout))
	})

	go s.writePump(sess, w)
	reason := s.readPump(ctx, sess, w)
	s.hub.close(sess, reason)
}

// ---- 读循环：只读，按到达顺序逐个处理 ----
func (s *Server) readPump(ctx context.Context, sess *Session, w Wire) string {
	conf := s.hub.conf
	for {
		mt, data, rerr := w.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				s.log.Debug("peer closed", zap.String("conn", sess.ID()), zap.Error(rerr))
				return "peer closed"
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				s.log.Info("read timeout", zap.String("conn", sess.ID()))
				return "read timeout"
			}
			if !sess.IsClosed() {
				s.log.Info("read error", zap.String("conn", sess.ID()), zap.Error(rerr))
			}
			return "read error"
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		now := conf.Clock()
		sess.touch(now)
		_ = w.SetReadDeadline(now.Add(conf.ReadTimeout))

		s.HandleFrame(ctx, sess, data)
	}
}

// HandleFrame 解析并分发一帧；错误按需以 event-error 回给发送方
func (s *Server) HandleFrame(ctx context.Context, sess *Session, data []byte) {
	in, perr := ParseFrameJSON(data)
	if perr != nil {
		// 只打印简短样本
		sample := data
		if len(sample) > 256 {
			sample = sample[:256]
		}
		s.log.Info("bad frame", zap.String("conn", sess.ID()), zap.ByteString("sample", sample), zap.Error(perr))
		sess.Send(BuildErrorFrame("", perr))
		return
	}

	c := &Context{
		Context: ctx,
		Hub:     s.hub,
		Session: sess,
		Event:   in.Event,
		Data:    in.Data,
		Log:     s.log.With(zap.String("event", in.Event), zap.String("conn", sess.ID())),
	}
	if err := s.disp.Dispatch(c); err != nil {
		if Surface(err) {
			sess.Send(BuildErrorFrame(in.Event, err))
			return
		}
		c.Log.Error("handle event failed", zap.String("userId", sess.UserID()), zap.Error(err))
	}
}

// ---- 写循环：独占写，定时 ping ----
func (s *Server) writePump(sess *Session, w Wire) {
	conf := s.hub.conf
	ticker := time.NewTicker(conf.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.Done():
			return
		case b := <-sess.send:
			_ = w.SetWriteDeadline(conf.Clock().Add(conf.WriteTimeout))
			if err := w.WriteMessage(websocket.TextMessage, b); err != nil {
				s.log.Info("write failed", zap.String("conn", sess.ID()), zap.Error(err))
				s.hub.close(sess, "write error")
				return
			}
		case <-ticker.C:
			if err := w.WriteControl(websocket.PingMessage, nil, conf.Clock().Add(conf.WriteTimeout)); err != nil {
				s.log.Info("ping failed", zap.String("conn", sess.ID()), zap.Error(err))
				s.hub.close(sess, "ping error")
				return
			}
		}
	}
}
