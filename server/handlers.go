package server

import (
	"context"
	"errors"

	"pairchat/logging"
	"pairchat/protocol"
)

// handlePacket applies one line packet. It reports false once the
// session should end.
func (s *Server) handlePacket(ctx context.Context, sess *lineSession, pkt *protocol.Packet, log logging.Logger) bool {
	ev, err := pkt.Decode()
	if err != nil {
		log.Debug(ctx, "rejected packet", "type", pkt.Type, "err", err)
		s.sendError(sess, pkt.Type, err.Error())
		return true
	}

	switch ev.(type) {
	case protocol.Ping:
		sess.reply("pong")
		return true
	case protocol.Bye:
		s.handleBye(ctx, sess, log)
		return false
	}

	if err := s.hub.Dispatch(ctx, sess, ev); err != nil {
		var verr *protocol.ValidationError
		if errors.As(err, &verr) {
			s.sendError(sess, pkt.Type, err.Error())
			return true
		}
		log.Warn(ctx, "event not applied", "type", pkt.Type, "err", err)
		return false
	}
	return true
}

func (s *Server) handleBye(ctx context.Context, sess *lineSession, log logging.Logger) {
	if err := s.hub.Disconnect(ctx, sess); err != nil {
		log.Debug(ctx, "disconnect not applied", "err", err)
	}
	sess.reply("bye")
}
