package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pairchat/logging"
	"pairchat/presence"
	"pairchat/protocol"
)

var (
	errSessionClosed = errors.New("session closed")
	errOutboxFull    = errors.New("outbox full")
)

// BlobStore keeps uploaded attachments.
type BlobStore interface {
	Store(ctx context.Context, ownerID int64, r io.Reader, name string) (string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

type Server struct {
	hub      *presence.Hub
	blobs    BlobStore
	config   *ServerConfig
	log      logging.Logger
	sessions map[string]session
	mu       sync.Mutex
	wg       sync.WaitGroup
}

type ServerConfig struct {
	PublicDir      string
	MaxUploadBytes int64
	OutboxSize     int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// session is a live transport connection known to the server.
type session interface {
	presence.Handle
	close(reason string)
}

func New(hub *presence.Hub, blobs BlobStore, config *ServerConfig, log logging.Logger) *Server {
	if config.OutboxSize <= 0 {
		config.OutboxSize = 64
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 120 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 50 << 20
	}

	return &Server{
		hub:      hub,
		blobs:    blobs,
		config:   config,
		log:      log,
		sessions: make(map[string]session),
	}
}

// ServeHTTP runs the HTTP and WebSocket endpoints on ln until ctx ends.
func (s *Server) ServeHTTP(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn(ctx, "http shutdown", "err", err)
		}
	}()

	s.log.Info(ctx, "http server started", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeLine accepts line transport clients on ln until ctx ends.
func (s *Server) ServeLine(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.Info(ctx, "line server started", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Warn(ctx, "error accepting connection", "err", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	sess := newLineSession(conn, s.config.OutboxSize, s.config.WriteTimeout)
	log := s.log.With("conn", sess.ID(), "remote", conn.RemoteAddr().String())

	s.addSession(sess)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		sess.writeLoop(ctx, log)
	}()

	defer func() {
		s.removeSession(sess)
		if err := s.hub.Disconnect(context.WithoutCancel(ctx), sess); err != nil {
			log.Debug(ctx, "disconnect not applied", "err", err)
		}
		sess.stop()
		<-writerDone
		log.Info(ctx, "client disconnected")
	}()

	log.Info(ctx, "new client connected")

	reader := bufio.NewReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		line, err := reader.ReadString('\n')
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				sess.reply("bye", "timeout")
				return
			}
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Warn(ctx, "error reading", "err", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		log.Debug(ctx, "received", "line", line)

		pkt, err := protocol.ParsePacket(line + "\n")
		if err != nil {
			log.Debug(ctx, "parse error", "err", err, "line", line)
			s.sendError(sess, "", "Invalid packet format")
			continue
		}

		if !s.handlePacket(ctx, sess, pkt, log) {
			return
		}
	}
}

// lineSession is a line transport client. All writes go through the
// outbox and one writer goroutine.
type lineSession struct {
	id           string
	conn         net.Conn
	outbox       chan string
	done         chan struct{}
	once         sync.Once
	writeTimeout time.Duration
}

func newLineSession(conn net.Conn, outboxSize int, writeTimeout time.Duration) *lineSession {
	return &lineSession{
		id:           uuid.NewString(),
		conn:         conn,
		outbox:       make(chan string, outboxSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

func (ls *lineSession) ID() string { return ls.id }

// Send queues a notification and drops it when the outbox is full.
func (ls *lineSession) Send(ev protocol.Outbound) error {
	select {
	case <-ls.done:
		return errSessionClosed
	default:
	}
	select {
	case ls.outbox <- ev.Line():
		return nil
	case <-ls.done:
		return errSessionClosed
	default:
		return errOutboxFull
	}
}

// reply queues a direct answer to the client, waiting for outbox room.
func (ls *lineSession) reply(pktType string, fields ...string) {
	select {
	case ls.outbox <- protocol.FormatPacket(pktType, fields...):
	case <-ls.done:
	}
}

func (ls *lineSession) close(reason string) {
	ls.reply("bye", reason)
	ls.stop()
}

func (ls *lineSession) stop() {
	ls.once.Do(func() { close(ls.done) })
}

// writeLoop owns the connection writes. Once the session stops, whatever
// is still queued is flushed and the connection is closed.
func (ls *lineSession) writeLoop(ctx context.Context, log logging.Logger) {
	defer ls.conn.Close()

	for {
		select {
		case line := <-ls.outbox:
			if err := ls.write(line); err != nil {
				log.Debug(ctx, "error writing", "err", err)
				ls.stop()
				return
			}
		case <-ls.done:
			for {
				select {
				case line := <-ls.outbox:
					if ls.write(line) != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (ls *lineSession) write(line string) error {
	ls.conn.SetWriteDeadline(time.Now().Add(ls.writeTimeout))
	_, err := io.WriteString(ls.conn, line)
	return err
}

func (s *Server) sendError(sess *lineSession, event, description string) {
	if event != "" {
		// fail|event|description
		sess.reply("fail", event, description)
	} else {
		sess.reply("fail", description)
	}
}

func (s *Server) addSession(sess session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID()] = sess
}

func (s *Server) removeSession(sess session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.ID())
}

// Shutdown says goodbye to every connected client and waits for their
// handlers to finish.
func (s *Server) Shutdown(reason string) {
	s.mu.Lock()
	sessions := make([]session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close(reason)
	}
	s.wg.Wait()
}
