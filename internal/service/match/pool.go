package match

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/lingolab/pairchat/backend/internal/service/registry"
)

var ErrAlreadyWaiting = errors.New("participant already waiting")

// Entry is one not-yet-paired participant in the waiting pool.
type Entry struct {
	Client    *registry.Client
	Language  string
	Presurvey json.RawMessage
	JoinedAt  time.Time

	outcome chan Outcome
}

// Age reports how long the entry has been waiting.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.JoinedAt)
}

// Pool is the ordered holding area for unmatched participants. It is not
// internally locked: the matchmaker funnels every mutation through its
// own mutex, which keeps scan-then-remove sequences atomic.
type Pool struct {
	entries []*Entry
	index   map[string]*Entry
}

// NewPool builds an empty pool.
func NewPool() *Pool {
	return &Pool{index: make(map[string]*Entry)}
}

// Enqueue inserts the entry in join-time order. A participant that is
// already waiting is rejected; re-enqueueing after removal (the match
// rollback path) is allowed and keeps the original position.
func (p *Pool) Enqueue(e *Entry) error {
	if _, dup := p.index[e.Client.ID]; dup {
		return ErrAlreadyWaiting
	}

	// Arrivals come in time order; only rollback re-inserts walk back.
	pos := len(p.entries)
	for pos > 0 && p.entries[pos-1].JoinedAt.After(e.JoinedAt) {
		pos--
	}
	p.entries = append(p.entries, nil)
	copy(p.entries[pos+1:], p.entries[pos:])
	p.entries[pos] = e

	p.index[e.Client.ID] = e
	return nil
}

// Remove drops the entry for a participant id. Absent ids are a no-op.
func (p *Pool) Remove(id string) *Entry {
	e, ok := p.index[id]
	if !ok {
		return nil
	}
	delete(p.index, id)
	for i, cur := range p.entries {
		if cur == e {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			break
		}
	}
	return e
}

// Ordered returns a snapshot of the pool, join time ascending.
func (p *Pool) Ordered() []*Entry {
	return append([]*Entry(nil), p.entries...)
}

// Contains reports whether a participant is currently waiting.
func (p *Pool) Contains(id string) bool {
	_, ok := p.index[id]
	return ok
}

// Len reports the number of waiting participants.
func (p *Pool) Len() int { return len(p.entries) }
