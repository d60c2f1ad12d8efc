package presence

import (
	"context"
	"sort"
	"time"

	"pairchat/logging"
	"pairchat/models"
	"pairchat/protocol"
)

const DefaultTypingTTL = 5 * time.Second

// Tracker holds at most one typing record per user and tells the record's
// peer when typing starts and stops.
type Tracker struct {
	records  map[int64]models.TypingRecord
	gens     map[int64]uint64 // StartTyping sequence number of each record
	seq      uint64
	registry *Registry
	ttl      time.Duration
	log      logging.Logger
}

func NewTracker(registry *Registry, ttl time.Duration, log logging.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Tracker{
		records:  make(map[int64]models.TypingRecord),
		gens:     make(map[int64]uint64),
		registry: registry,
		ttl:      ttl,
		log:      log,
	}
}

func (t *Tracker) StartTyping(userID, peerID int64, now time.Time) {
	t.seq++
	t.records[userID] = models.TypingRecord{PeerID: peerID, Since: now.UnixMilli()}
	t.gens[userID] = t.seq
	t.notify(peerID, protocol.UserTyping(userID))
}

// StopTyping removes the user's record and reports whether there was one.
func (t *Tracker) StopTyping(userID int64) bool {
	rec, ok := t.records[userID]
	if !ok {
		return false
	}
	delete(t.records, userID)
	delete(t.gens, userID)
	t.notify(rec.PeerID, protocol.UserStoppedTyping(userID))
	return true
}

func (t *Tracker) ClearOnMessageSent(userID int64) bool {
	return t.StopTyping(userID)
}

// Mark returns a position in the sequence of StartTyping calls. Records
// started after it are left alone by ClearStartedBefore.
func (t *Tracker) Mark() uint64 {
	return t.seq
}

// ClearStartedBefore stops the user's typing only if the record was
// started at or before mark.
func (t *Tracker) ClearStartedBefore(userID int64, mark uint64) bool {
	if gen, ok := t.gens[userID]; ok && gen > mark {
		return false
	}
	return t.StopTyping(userID)
}

// SweepExpired evicts records older than the TTL and returns the users it evicted.
func (t *Tracker) SweepExpired(now time.Time) []int64 {
	nowMs := now.UnixMilli()
	ttlMs := t.ttl.Milliseconds()

	var expired []int64
	for userID, rec := range t.records {
		if nowMs-rec.Since > ttlMs {
			expired = append(expired, userID)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })

	for _, userID := range expired {
		rec := t.records[userID]
		delete(t.records, userID)
		delete(t.gens, userID)
		t.notify(rec.PeerID, protocol.UserStoppedTyping(userID))
	}
	return expired
}

func (t *Tracker) Record(userID int64) (models.TypingRecord, bool) {
	rec, ok := t.records[userID]
	return rec, ok
}

func (t *Tracker) Len() int {
	return len(t.records)
}

func (t *Tracker) notify(peerID int64, ev protocol.Outbound) {
	h, ok := t.registry.Lookup(peerID)
	if !ok {
		return
	}
	if err := h.Send(ev); err != nil {
		t.log.Warn(context.Background(), "typing notification dropped",
			"peer", peerID, "event", ev.Event, "conn", h.ID(), "err", err)
	}
}
