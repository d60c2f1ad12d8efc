package presence

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"pairchat/logging"
	"pairchat/models"
	"pairchat/protocol"
)

type Config struct {
	TypingTTL      time.Duration
	SweepInterval  time.Duration
	PersistTimeout time.Duration
	QueueSize      int
	Now            func() time.Time
}

func (c Config) withDefaults() Config {
	if c.TypingTTL <= 0 {
		c.TypingTTL = DefaultTypingTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = DefaultPersistTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type Stats struct {
	Connections int
	Users       []int64
	Typing      int
}

func (s Stats) String() string {
	users := make([]string, 0, len(s.Users))
	for _, id := range s.Users {
		users = append(users, strconv.FormatInt(id, 10))
	}
	return "connections=" + strconv.Itoa(s.Connections) +
		",users=" + strings.Join(users, ";") +
		",typing=" + strconv.Itoa(s.Typing)
}

type (
	connectEvent struct {
		userID int64
		handle Handle
	}
	disconnectEvent struct {
		handle Handle
	}
	startTypingEvent struct {
		userID int64
		peerID int64
	}
	stopTypingEvent struct {
		userID int64
	}
	sendMessageEvent struct {
		draft models.Draft
	}
	persistedEvent struct {
		draft models.Draft
		msg   models.Message
		mark  uint64 // tracker position when the draft was accepted
		err   error
	}
	sweepEvent struct {
		now time.Time
	}
	statsEvent struct {
		reply chan Stats
	}
)

// Hub is the single owner of the connection registry and typing tracker.
// Transports post events from any goroutine; Run applies them one at a time.
type Hub struct {
	registry *Registry
	tracker  *Tracker
	router   *Router
	sweeper  *Sweeper
	events   chan any
	done     chan struct{}
	mu       sync.RWMutex // held for reading while posting
	closed   bool
	now      func() time.Time
	log      logging.Logger
}

func NewHub(gw Gateway, cfg Config, log logging.Logger) *Hub {
	cfg = cfg.withDefaults()
	registry := NewRegistry()
	tracker := NewTracker(registry, cfg.TypingTTL, log)

	h := &Hub{
		registry: registry,
		tracker:  tracker,
		events:   make(chan any, cfg.QueueSize),
		done:     make(chan struct{}),
		now:      cfg.Now,
		log:      log,
	}
	h.router = NewRouter(gw, registry, tracker, cfg, log)
	h.sweeper = NewSweeper(cfg.SweepInterval, func(ctx context.Context, now time.Time) {
		_ = h.post(ctx, sweepEvent{now: now})
	})
	return h
}

// Run processes events until ctx ends, together with the persistence
// writer and the typing sweeper. Pending writes are flushed before it returns.
func (h *Hub) Run(ctx context.Context) error {
	// The writer stops only after the hub has handed it every queued send.
	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWriter()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.router.Run(writerCtx)
	}()
	go func() {
		defer wg.Done()
		h.sweeper.Run(ctx)
	}()
	defer func() {
		close(h.done)
		stopWriter()
		wg.Wait()
	}()

	h.log.Info(ctx, "hub started")
	for {
		select {
		case <-ctx.Done():
			h.log.Info(ctx, "hub stopping")
			h.drain(ctx)
			return nil
		case ev := <-h.events:
			h.handle(ctx, ev)
		}
	}
}

func (h *Hub) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case connectEvent:
		h.registry.Register(ev.userID, ev.handle)
		h.log.Info(ctx, "user connected", "user", ev.userID, "conn", ev.handle.ID())

	case disconnectEvent:
		userID, ok := h.registry.UnregisterByHandle(ev.handle)
		if !ok {
			h.log.Debug(ctx, "unregistered connection closed", "conn", ev.handle.ID())
			return
		}
		h.tracker.StopTyping(userID)
		h.log.Info(ctx, "user disconnected", "user", userID, "conn", ev.handle.ID())

	case startTypingEvent:
		h.tracker.StartTyping(ev.userID, ev.peerID, h.now())

	case stopTypingEvent:
		h.tracker.StopTyping(ev.userID)

	case sendMessageEvent:
		draft := ev.draft
		mark := h.tracker.Mark()
		pctx := context.WithoutCancel(ctx)
		err := h.router.Enqueue(draft, func(msg models.Message, err error) {
			if perr := h.post(pctx, persistedEvent{draft: draft, msg: msg, mark: mark, err: err}); perr != nil {
				h.log.Warn(ctx, "persist result not applied", "sender", draft.SenderID, "err", perr)
			}
		})
		if err != nil {
			h.log.Error(ctx, "message dropped",
				"sender", draft.SenderID, "receiver", draft.ReceiverID, "err", err)
		}

	case persistedEvent:
		if ev.err != nil {
			h.log.Error(ctx, "message dropped",
				"sender", ev.draft.SenderID, "receiver", ev.draft.ReceiverID, "err", ev.err)
			return
		}
		h.log.Debug(ctx, "message persisted", "message", ev.msg.ID,
			"sender", ev.msg.SenderID, "receiver", ev.msg.ReceiverID)
		h.router.DeliverMarked(ctx, ev.msg, ev.mark)

	case sweepEvent:
		if expired := h.tracker.SweepExpired(ev.now); len(expired) > 0 {
			h.log.Debug(ctx, "typing expired", "users", expired)
		}

	case statsEvent:
		ev.reply <- Stats{
			Connections: h.registry.Len(),
			Users:       h.registry.Users(),
			Typing:      h.tracker.Len(),
		}
	}
}

// drain closes the hub to new events and applies the ones already
// queued, so every accepted message still reaches the writer.
func (h *Hub) drain(ctx context.Context) {
	closed := make(chan struct{})
	go func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		close(closed)
	}()

	for {
		select {
		case ev := <-h.events:
			h.handle(ctx, ev)
		case <-closed:
			for {
				select {
				case ev := <-h.events:
					h.handle(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

func (h *Hub) post(ctx context.Context, ev any) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}

	select {
	case h.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Connect(ctx context.Context, userID int64, handle Handle) error {
	return h.post(ctx, connectEvent{userID: userID, handle: handle})
}

func (h *Hub) Disconnect(ctx context.Context, handle Handle) error {
	return h.post(ctx, disconnectEvent{handle: handle})
}

func (h *Hub) StartTyping(ctx context.Context, userID, peerID int64) error {
	return h.post(ctx, startTypingEvent{userID: userID, peerID: peerID})
}

func (h *Hub) StopTyping(ctx context.Context, userID int64) error {
	return h.post(ctx, stopTypingEvent{userID: userID})
}

// SendMessage validates the draft and queues it for persistence and delivery.
// Persistence failures are logged; there is no acknowledgement to the sender.
func (h *Hub) SendMessage(ctx context.Context, d models.Draft) error {
	if err := protocol.ValidateDraft(d); err != nil {
		return err
	}
	return h.post(ctx, sendMessageEvent{draft: d})
}

// Dispatch routes an inbound transport event on behalf of handle.
func (h *Hub) Dispatch(ctx context.Context, handle Handle, in any) error {
	switch ev := in.(type) {
	case protocol.UserConnected:
		return h.Connect(ctx, ev.UserID, handle)
	case protocol.NewMessage:
		return h.SendMessage(ctx, ev.Draft)
	case protocol.StartTyping:
		return h.StartTyping(ctx, ev.UserID, ev.ReceiverID)
	case protocol.StopTyping:
		return h.StopTyping(ctx, ev.UserID)
	case protocol.Bye:
		return h.Disconnect(ctx, handle)
	case protocol.Ping:
		return nil
	default:
		return &protocol.ValidationError{Reason: fmt.Sprintf("unsupported event %T", in)}
	}
}

func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := h.post(ctx, statsEvent{reply: reply}); err != nil {
		return Stats{}, err
	}

	select {
	case s := <-reply:
		return s, nil
	case <-h.done:
		return Stats{}, ErrHubClosed
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

func (h *Hub) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	return h.router.Load(ctx)
}

func (h *Hub) ReplaceSnapshot(ctx context.Context, snap *models.Snapshot) error {
	return h.router.Replace(ctx, snap)
}

// Submit persists a draft and delivers it, returning the stamped message.
// Delivery happens on the Hub goroutine as for SendMessage.
func (h *Hub) Submit(ctx context.Context, d models.Draft) (models.Message, error) {
	if err := protocol.ValidateDraft(d); err != nil {
		return models.Message{}, err
	}
	msg, err := h.router.Submit(ctx, d)
	if err != nil {
		return models.Message{}, err
	}
	if err := h.post(ctx, persistedEvent{draft: d, msg: msg, mark: math.MaxUint64}); err != nil {
		return msg, err
	}
	return msg, nil
}
