package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pairchat/logging"
	"pairchat/protocol"
)

const maxFrameBytes = 64 << 10

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSession is a WebSocket client speaking JSON envelopes.
type wsSession struct {
	id           string
	conn         *websocket.Conn
	outbox       chan protocol.Outbound
	done         chan struct{}
	once         sync.Once
	reason       string
	writeTimeout time.Duration
}

func (ws *wsSession) ID() string { return ws.id }

func (ws *wsSession) Send(ev protocol.Outbound) error {
	select {
	case <-ws.done:
		return errSessionClosed
	default:
	}
	select {
	case ws.outbox <- ev:
		return nil
	case <-ws.done:
		return errSessionClosed
	default:
		return errOutboxFull
	}
}

func (ws *wsSession) close(reason string) {
	ws.once.Do(func() {
		ws.reason = reason
		close(ws.done)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "websocket upgrade", "err", err)
		return
	}

	ws := &wsSession{
		id:           uuid.NewString(),
		conn:         conn,
		outbox:       make(chan protocol.Outbound, s.config.OutboxSize),
		done:         make(chan struct{}),
		writeTimeout: s.config.WriteTimeout,
	}
	ctx := context.WithoutCancel(r.Context())
	log := s.log.With("conn", ws.id, "remote", r.RemoteAddr)

	s.addSession(ws)
	s.wg.Add(1)
	defer s.wg.Done()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.wsWriteLoop(ctx, ws, log)
	}()

	log.Info(ctx, "websocket connected")
	s.wsReadLoop(ctx, ws, log)

	s.removeSession(ws)
	if err := s.hub.Disconnect(ctx, ws); err != nil {
		log.Debug(ctx, "disconnect not applied", "err", err)
	}
	ws.close("")
	<-writerDone
	log.Info(ctx, "websocket disconnected")
}

func (s *Server) wsReadLoop(ctx context.Context, ws *wsSession, log logging.Logger) {
	conn := ws.conn
	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug(ctx, "websocket read", "err", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		ev, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			log.Warn(ctx, "dropped event", "err", err)
			continue
		}
		if err := s.hub.Dispatch(ctx, ws, ev); err != nil {
			log.Warn(ctx, "event not applied", "err", err)
			return
		}
	}
}

// wsWriteLoop owns the connection writes and keeps it alive with pings.
func (s *Server) wsWriteLoop(ctx context.Context, ws *wsSession, log logging.Logger) {
	ping := time.NewTicker(s.config.ReadTimeout * 9 / 10)
	defer func() {
		ping.Stop()
		ws.conn.Close()
	}()

	for {
		select {
		case ev := <-ws.outbox:
			ws.conn.SetWriteDeadline(time.Now().Add(ws.writeTimeout))
			if err := ws.conn.WriteJSON(ev); err != nil {
				log.Debug(ctx, "websocket write", "err", err)
				ws.close("")
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(ws.writeTimeout)
			if err := ws.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				ws.close("")
				return
			}
		case <-ws.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, ws.reason)
			if ws.reason == "" {
				msg = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			}
			_ = ws.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ws.writeTimeout))
			return
		}
	}
}
