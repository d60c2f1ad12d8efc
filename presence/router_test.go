package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairchat/logging"
	"pairchat/models"
	"pairchat/protocol"
)

const testNow = 1_700_000_000_000

func startRouter(t *testing.T, gw Gateway, cfg Config) (*Router, *Registry, *Tracker) {
	t.Helper()
	if cfg.Now == nil {
		cfg.Now = fixedClock(testNow)
	}
	reg := NewRegistry()
	tr := NewTracker(reg, DefaultTypingTTL, logging.Nop())
	r := NewRouter(gw, reg, tr, cfg, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r, reg, tr
}

func TestRouter_SequentialIDs(t *testing.T) {
	gw := newMemGateway()
	r, _, _ := startRouter(t, gw, Config{})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		msg, err := r.Submit(ctx, models.Draft{SenderID: 1, ReceiverID: 2, Content: "hi"})
		require.NoError(t, err)
		assert.Equal(t, int64(i), msg.ID)
		assert.Equal(t, int64(testNow), msg.Timestamp)
	}

	msgs := gw.messages()
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.ID)
	}
}

func TestRouter_PreservesUsersAndContacts(t *testing.T) {
	gw := newMemGateway()
	r, _, _ := startRouter(t, gw, Config{})

	_, err := r.Submit(context.Background(), models.Draft{SenderID: 1, ReceiverID: 2, Content: "hi"})
	require.NoError(t, err)

	snap, err := gw.Load(context.Background())
	require.NoError(t, err)
	seed := models.Seed()
	assert.Equal(t, seed.Users, snap.Users)
	assert.Equal(t, seed.Contacts, snap.Contacts)
}

func TestRouter_ConcurrentSubmitsGetDistinctIDs(t *testing.T) {
	gw := newMemGateway()
	r, _, _ := startRouter(t, gw, Config{QueueSize: 64})

	const n = 20
	var wg sync.WaitGroup
	ids := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := r.Submit(context.Background(), models.Draft{SenderID: 1, ReceiverID: 2, Content: "x"})
			if assert.NoError(t, err) {
				ids <- msg.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	var got []int64
	for id := range ids {
		got = append(got, id)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Len(t, got, n)
	for i, id := range got {
		assert.Equal(t, int64(i+1), id)
	}
	assert.Len(t, gw.messages(), n)
}

func TestRouter_LoadFailure(t *testing.T) {
	gw := newMemGateway()
	gw.loadErr = errBoom
	r, _, _ := startRouter(t, gw, Config{})

	_, err := r.Submit(context.Background(), models.Draft{SenderID: 1, ReceiverID: 2, Content: "hi"})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "load", perr.Op)
	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, gw.saves)
}

func TestRouter_SaveFailure(t *testing.T) {
	gw := newMemGateway()
	gw.saveErr = errBoom
	r, _, _ := startRouter(t, gw, Config{})

	_, err := r.Submit(context.Background(), models.Draft{SenderID: 1, ReceiverID: 2, Content: "hi"})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "save", perr.Op)
	assert.Empty(t, gw.messages())
}

func TestRouter_ReplaceThenSubmit(t *testing.T) {
	gw := newMemGateway()
	r, _, _ := startRouter(t, gw, Config{})
	ctx := context.Background()

	snap := models.Seed()
	snap.Messages = []models.Message{
		{ID: 1, SenderID: 2, ReceiverID: 1, Content: "a", Timestamp: 1},
		{ID: 2, SenderID: 1, ReceiverID: 2, Content: "b", Timestamp: 2},
	}
	require.NoError(t, r.Replace(ctx, snap))

	msg, err := r.Submit(ctx, models.Draft{SenderID: 1, ReceiverID: 2, Content: "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), msg.ID)

	loaded, err := r.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 3)
}

func TestRouter_QueueFull(t *testing.T) {
	gw := newMemGateway()
	r := NewRouter(gw, NewRegistry(), nil, Config{QueueSize: 1}, logging.Nop())
	noop := func(models.Message, error) {}

	require.NoError(t, r.Enqueue(models.Draft{SenderID: 1, ReceiverID: 2, Content: "a"}, noop))
	err := r.Enqueue(models.Draft{SenderID: 1, ReceiverID: 2, Content: "b"}, noop)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestRouter_FlushesQueueOnShutdown(t *testing.T) {
	gw := newMemGateway()
	r := NewRouter(gw, NewRegistry(), nil, Config{QueueSize: 8, Now: fixedClock(testNow)}, logging.Nop())

	var mu sync.Mutex
	var stamped []int64
	for i := 0; i < 3; i++ {
		err := r.Enqueue(models.Draft{SenderID: 1, ReceiverID: 2, Content: "q"}, func(m models.Message, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				stamped = append(stamped, m.ID)
			}
		})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)

	assert.Equal(t, []int64{1, 2, 3}, stamped)
	assert.Len(t, gw.messages(), 3)

	_, err := r.Submit(context.Background(), models.Draft{SenderID: 1, ReceiverID: 2, Content: "late"})
	assert.True(t, errors.Is(err, ErrHubClosed))
}

func TestRouter_PersistTimeout(t *testing.T) {
	gw := &slowGateway{memGateway: newMemGateway(), delay: time.Second}
	r, _, _ := startRouter(t, gw, Config{PersistTimeout: 20 * time.Millisecond})

	_, err := r.Submit(context.Background(), models.Draft{SenderID: 1, ReceiverID: 2, Content: "hi"})
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRouter_DeliverClearsTypingFirst(t *testing.T) {
	gw := newMemGateway()
	r, reg, tr := startRouter(t, gw, Config{})
	peer := newFakeHandle("peer")
	reg.Register(2, peer)

	tr.StartTyping(1, 2, time.UnixMilli(0))
	msg := models.Message{ID: 1, SenderID: 1, ReceiverID: 2, Content: "hi", Timestamp: testNow}
	r.Deliver(context.Background(), msg)

	_, typing := tr.Record(1)
	assert.False(t, typing)
	require.Len(t, peer.ch, 3)
	assert.Equal(t, protocol.UserTyping(1), <-peer.ch)
	assert.Equal(t, protocol.UserStoppedTyping(1), <-peer.ch)
	assert.Equal(t, protocol.MessageReceived(msg), <-peer.ch)
}

func TestRouter_DeliverOffline(t *testing.T) {
	gw := newMemGateway()
	r, _, tr := startRouter(t, gw, Config{})

	tr.StartTyping(1, 2, time.UnixMilli(0))
	r.Deliver(context.Background(), models.Message{ID: 1, SenderID: 1, ReceiverID: 2, Content: "hi"})
	assert.Zero(t, tr.Len())
}

type slowGateway struct {
	*memGateway
	delay time.Duration
}

func (g *slowGateway) Load(ctx context.Context) (*models.Snapshot, error) {
	select {
	case <-time.After(g.delay):
		return g.memGateway.Load(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
