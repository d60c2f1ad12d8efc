package presence

import (
	"context"
	"math"
	"time"

	"pairchat/logging"
	"pairchat/models"
	"pairchat/protocol"
)

const DefaultPersistTimeout = 5 * time.Second

type writeRequest struct {
	draft   *models.Draft
	replace *models.Snapshot
	done    func(models.Message, error)
}

// Router stamps, persists and delivers messages.
//
// Every snapshot mutation goes through one writer goroutine (Run), so two
// submissions never load the same message count and never overwrite each
// other's save. Ids keep the count+1 scheme of the stored document.
type Router struct {
	gateway  Gateway
	registry *Registry
	tracker  *Tracker
	timeout  time.Duration
	now      func() time.Time
	queue    chan writeRequest
	stopped  chan struct{}
	log      logging.Logger
}

func NewRouter(gw Gateway, registry *Registry, tracker *Tracker, cfg Config, log logging.Logger) *Router {
	cfg = cfg.withDefaults()
	return &Router{
		gateway:  gw,
		registry: registry,
		tracker:  tracker,
		timeout:  cfg.PersistTimeout,
		now:      cfg.Now,
		queue:    make(chan writeRequest, cfg.QueueSize),
		stopped:  make(chan struct{}),
		log:      log,
	}
}

// Run is the single writer. Requests still queued when ctx ends are
// flushed before it returns. A write in flight is bounded by the persist
// timeout, not by ctx.
func (r *Router) Run(ctx context.Context) {
	defer close(r.stopped)
	wctx := context.WithoutCancel(ctx)

	for {
		select {
		case req := <-r.queue:
			r.process(wctx, req)
		case <-ctx.Done():
			r.drain(wctx)
			return
		}
	}
}

func (r *Router) drain(ctx context.Context) {
	for {
		select {
		case req := <-r.queue:
			r.process(ctx, req)
		default:
			return
		}
	}
}

func (r *Router) process(ctx context.Context, req writeRequest) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if req.replace != nil {
		err := r.save(ctx, req.replace)
		req.done(models.Message{}, err)
		return
	}

	msg, err := r.persist(ctx, *req.draft)
	req.done(msg, err)
}

// persist loads the snapshot, stamps the draft as the next message and saves.
func (r *Router) persist(ctx context.Context, d models.Draft) (models.Message, error) {
	snap, err := r.gateway.Load(ctx)
	if err != nil {
		return models.Message{}, &PersistenceError{Op: "load", Err: err}
	}

	msg := d.Stamp(int64(len(snap.Messages))+1, r.now().UnixMilli())
	snap.Messages = append(snap.Messages, msg)

	if err := r.save(ctx, snap); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (r *Router) save(ctx context.Context, snap *models.Snapshot) error {
	snap.Normalize()
	if err := r.gateway.Save(ctx, snap); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	return nil
}

// Enqueue hands a draft to the writer without blocking. done runs on the
// writer goroutine once the message is saved or has failed.
func (r *Router) Enqueue(d models.Draft, done func(models.Message, error)) error {
	return r.enqueue(writeRequest{draft: &d, done: done})
}

func (r *Router) enqueue(req writeRequest) error {
	select {
	case r.queue <- req:
		return nil
	default:
		return &PersistenceError{Op: "enqueue", Err: ErrQueueFull}
	}
}

// Submit persists a draft and waits for the stamped message. It does not
// deliver; delivery belongs to the Hub.
func (r *Router) Submit(ctx context.Context, d models.Draft) (models.Message, error) {
	type result struct {
		msg models.Message
		err error
	}
	ch := make(chan result, 1)

	err := r.Enqueue(d, func(msg models.Message, err error) {
		ch <- result{msg, err}
	})
	if err != nil {
		return models.Message{}, err
	}

	select {
	case res := <-ch:
		return res.msg, res.err
	case <-r.stopped:
		return models.Message{}, ErrHubClosed
	case <-ctx.Done():
		return models.Message{}, ctx.Err()
	}
}

// Replace overwrites the whole snapshot through the writer queue.
func (r *Router) Replace(ctx context.Context, snap *models.Snapshot) error {
	ch := make(chan error, 1)

	err := r.enqueue(writeRequest{replace: snap.Clone(), done: func(_ models.Message, err error) {
		ch <- err
	}})
	if err != nil {
		return err
	}

	select {
	case err := <-ch:
		return err
	case <-r.stopped:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load reads the current snapshot directly from the gateway.
func (r *Router) Load(ctx context.Context) (*models.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	snap, err := r.gateway.Load(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}
	snap.Normalize()
	return snap, nil
}

// Deliver must run on the Hub goroutine. It clears the sender's typing
// state, then hands the message to the receiver if connected.
func (r *Router) Deliver(ctx context.Context, msg models.Message) {
	r.DeliverMarked(ctx, msg, math.MaxUint64)
}

// DeliverMarked is Deliver for a message accepted at tracker position
// mark: typing the sender started after that is kept.
func (r *Router) DeliverMarked(ctx context.Context, msg models.Message, mark uint64) {
	r.tracker.ClearStartedBefore(msg.SenderID, mark)

	h, ok := r.registry.Lookup(msg.ReceiverID)
	if !ok {
		r.log.Debug(ctx, "receiver offline, message kept in log",
			"message", msg.ID, "receiver", msg.ReceiverID)
		return
	}
	if err := h.Send(protocol.MessageReceived(msg)); err != nil {
		r.log.Warn(ctx, "message delivery dropped",
			"message", msg.ID, "receiver", msg.ReceiverID, "conn", h.ID(), "err", err)
	}
}
