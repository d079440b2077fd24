package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"nightroad.app/internal/hub"
	"nightroad.app/internal/protocol"
	"nightroad.app/internal/sim/game"
)

const (
	writeWait       = 5 * time.Second
	defaultReadWait = 60 * time.Second
	actionTimeout   = 10 * time.Second
)

// Dispatcher runs one action. *game.Engine implements it.
type Dispatcher interface {
	Submit(ctx context.Context, req protocol.ActionReq) (protocol.ActionResp, error)
}

type Server struct {
	hub      *hub.Hub
	dispatch Dispatcher
	log      *log.Logger

	upgrader websocket.Upgrader
	readWait time.Duration
}

func NewServer(h *hub.Hub, d Dispatcher, logger *log.Logger) *Server {
	return &Server{
		hub:      h,
		dispatch: d,
		log:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // CORS is enforced by httpapi
		},
		readWait: defaultReadWait,
	}
}

// SetReadWait sets how long a silent peer is kept. Pings go out at 9/10 of it.
func (s *Server) SetReadWait(d time.Duration) {
	if d > 0 {
		s.readWait = d
	}
}

// SetCheckOrigin replaces the upgrade origin check.
func (s *Server) SetCheckOrigin(fn func(r *http.Request) bool) { s.upgrader.CheckOrigin = fn }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sub := s.hub.Subscribe()
		defer s.hub.Unsubscribe(sub.ID)

		if err := writeJSON(conn, protocol.ConnectedMsg{
			Type:            protocol.TypeConnected,
			ProtocolVersion: protocol.Version,
			ID:              sub.ID,
		}); err != nil {
			return
		}
		s.logf("ws: %s connected from %s", sub.ID, r.RemoteAddr)
		defer s.logf("ws: %s disconnected", sub.ID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		replies := make(chan []byte, 8)
		readWait := s.readWait
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readWait))
		})

		// Writer goroutine.
		go func() {
			defer cancel()
			ping := time.NewTicker(readWait * 9 / 10)
			defer ping.Stop()
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
						conn.Close()
						return
					}
					continue
				case m, ok := <-sub.C:
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage,
							websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "stream dropped"),
							time.Now().Add(time.Second))
						conn.Close()
						return
					}
					b = m
				case m := <-replies:
					b = m
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					conn.Close()
					return
				}
			}
		}()

		// Reader loop.
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readWait))
			res := s.handle(ctx, msg)
			b, err := json.Marshal(res)
			if err != nil {
				continue
			}
			select {
			case replies <- b:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Server) handle(ctx context.Context, msg []byte) protocol.WSResultMsg {
	res := protocol.WSResultMsg{Type: protocol.TypeResult}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeAction {
		res.Code, res.Error = protocol.ErrProtoBadRequest, "expected an action message"
		return res
	}
	var act protocol.WSActionMsg
	if err := json.Unmarshal(msg, &act); err != nil {
		res.Code, res.Error = protocol.ErrProtoBadRequest, err.Error()
		return res
	}
	res.ReqID = act.ReqID

	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	resp, err := s.dispatch.Submit(ctx, protocol.ActionReq{Action: act.Action, Payload: act.Payload})
	if err != nil {
		res.Code = game.ErrorCode(err)
		res.Error = err.Error()
		if res.Code == protocol.ErrInternal {
			s.logf("ws: action %s: %v", act.Action, err)
			res.Error = "internal error"
		}
		return res
	}
	res.ActionResp = resp
	return res
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}
