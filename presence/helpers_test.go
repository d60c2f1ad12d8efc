package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pairchat/models"
	"pairchat/protocol"
)

var errBoom = errors.New("boom")

type fakeHandle struct {
	id  string
	err error
	ch  chan protocol.Outbound
}

func newFakeHandle(id string) *fakeHandle {
	return &fakeHandle{id: id, ch: make(chan protocol.Outbound, 64)}
}

func (f *fakeHandle) ID() string { return f.id }

func (f *fakeHandle) Send(ev protocol.Outbound) error {
	if f.err != nil {
		return f.err
	}
	select {
	case f.ch <- ev:
		return nil
	default:
		return errors.New("outbox full")
	}
}

// next waits for the handle's next notification.
func (f *fakeHandle) next(t *testing.T) protocol.Outbound {
	t.Helper()
	select {
	case ev := <-f.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("no notification for %s", f.id)
		return protocol.Outbound{}
	}
}

type memGateway struct {
	mu      sync.Mutex
	snap    *models.Snapshot
	loadErr error
	saveErr error
	saves   int
}

func newMemGateway() *memGateway {
	return &memGateway{snap: models.Seed()}
}

func (g *memGateway) Load(ctx context.Context) (*models.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loadErr != nil {
		return nil, g.loadErr
	}
	return g.snap.Clone(), nil
}

func (g *memGateway) Save(ctx context.Context, snap *models.Snapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.saveErr != nil {
		return g.saveErr
	}
	g.snap = snap.Clone()
	g.saves++
	return nil
}

func (g *memGateway) messages() []models.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.Message{}, g.snap.Messages...)
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}
