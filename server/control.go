package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"
)

// ServeControl answers management commands on ln (a unix socket) until
// ctx ends. A shutdown command calls shutdown with the requested reason.
func (s *Server) ServeControl(ctx context.Context, ln net.Listener, shutdown func(reason string)) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.Info(ctx, "control socket listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			continue
		}

		go s.handleControlCommand(ctx, conn, shutdown)
	}
}

func (s *Server) handleControlCommand(ctx context.Context, conn net.Conn, shutdown func(reason string)) {
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(s.config.WriteTimeout))
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return
	}

	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, "|", 2)

	switch parts[0] {
	case "stats":
		stats, err := s.hub.Stats(ctx)
		if err != nil {
			io.WriteString(conn, "ERROR|"+err.Error()+"\n")
			return
		}
		io.WriteString(conn, "OK|"+stats.String()+"\n")

	case "shutdown":
		reason := "maintenance"
		if len(parts) == 2 && parts[1] != "" {
			reason = parts[1]
		}
		io.WriteString(conn, "OK|Shutting down\n")
		s.log.Info(ctx, "shutdown requested", "reason", reason)
		shutdown(reason)

	default:
		io.WriteString(conn, "ERROR|Unknown command\n")
	}
}
