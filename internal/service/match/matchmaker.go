package match

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/lingolab/pairchat/backend/internal/config"
	"github.com/lingolab/pairchat/backend/internal/model/chat"
	"github.com/lingolab/pairchat/backend/internal/model/wire"
	"github.com/lingolab/pairchat/backend/internal/service/registry"
	"github.com/lingolab/pairchat/backend/internal/service/store"
)

var ErrLanguageRequired = errors.New("declared language is required")

// Outcome resolves a participant's wait: either a committed dyad plus the
// session's completion channel, or a waiting-room timeout.
type Outcome struct {
	Dyad     *chat.Dyad
	Done     <-chan struct{}
	TimedOut bool
}

// ConversationCreator opens the persistent conversation record. The
// record must exist before a dyad is committed.
type ConversationCreator interface {
	CreateConversation(ctx context.Context, nc store.NewConversation) (int64, error)
}

// SessionStarter hands a committed dyad to the session coordinator.
// Start is idempotent per conversation id.
type SessionStarter interface {
	Start(dyad chat.Dyad, a, b *registry.Client) (<-chan struct{}, error)
}

// OverflowNotifier reports participants that could not be matched before
// their deadline. Best effort only.
type OverflowNotifier interface {
	NotifyOverflow(ctx context.Context, participantID string)
}

// Matchmaker owns the waiting pool and decides which two participants to
// pair right now. All pool mutation happens under mu; collaborator calls
// never hold it.
type Matchmaker struct {
	cfg        config.MatchConfig
	store      ConversationCreator
	starter    SessionStarter
	notifier   OverflowNotifier
	modelLabel string

	mu   sync.Mutex
	pool *Pool

	trigger chan struct{}
	now     func() time.Time

	priority map[config.LangPair]struct{}
	control  map[config.LangPair]struct{}
}

// New wires a matchmaker. modelLabel names the translation backend and
// is recorded with every conversation. An empty starter list is
// normalized to a single blank prompt so commit can always pick one.
func New(cfg config.MatchConfig, creator ConversationCreator, starter SessionStarter, notifier OverflowNotifier, modelLabel string) *Matchmaker {
	if len(cfg.Starters) == 0 {
		cfg.Starters = []string{""}
	}
	return &Matchmaker{
		cfg:        cfg,
		store:      creator,
		starter:    starter,
		notifier:   notifier,
		modelLabel: modelLabel,
		pool:       NewPool(),
		trigger:    make(chan struct{}, 1),
		now:        time.Now,
		priority:   pairSet(cfg.PriorityPairs),
		control:    pairSet(cfg.ControlPairs),
	}
}

func pairSet(pairs []config.LangPair) map[config.LangPair]struct{} {
	return lo.SliceToMap(pairs, func(p config.LangPair) (config.LangPair, struct{}) {
		return p.Normalize(), struct{}{}
	})
}

// Submit places a participant into the waiting pool and returns the
// channel the matcher resolves at pairing or overflow time. This replaces
// any per-connection poll loop: the waiter just parks on the channel.
func (m *Matchmaker) Submit(client *registry.Client, language string, presurvey json.RawMessage) (<-chan Outcome, error) {
	if language == "" {
		return nil, ErrLanguageRequired
	}

	entry := &Entry{
		Client:    client,
		Language:  language,
		Presurvey: presurvey,
		JoinedAt:  m.now(),
		outcome:   make(chan Outcome, 1),
	}

	m.mu.Lock()
	err := m.pool.Enqueue(entry)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	log.Printf("[match] participant=%s language=%s waiting (pool=%d)", client.ID, language, m.WaitingCount())
	m.kick()
	return entry.outcome, nil
}

// Withdraw removes a participant that disconnected while waiting.
func (m *Matchmaker) Withdraw(participantID string) bool {
	m.mu.Lock()
	entry := m.pool.Remove(participantID)
	m.mu.Unlock()
	if entry != nil {
		log.Printf("[match] participant=%s withdrew from waiting room", participantID)
	}
	return entry != nil
}

// WaitingCount reports the current pool size.
func (m *Matchmaker) WaitingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pool.Len()
}

// Run serializes all pairing decisions in one goroutine: a sweep fires on
// every arrival and on the poll cadence, so wait-time escalation and
// overflow happen even when nobody new shows up.
func (m *Matchmaker) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.trigger:
		case <-ticker.C:
		}
		m.sweep(ctx, m.now())
	}
}

func (m *Matchmaker) kick() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// sweep runs the priority pass, the control/escalation pass, and the
// overflow eviction, in that order, until the pool yields nothing more.
// A failed commit ends the pairing loop for this sweep: the rolled-back
// pair is back in the pool and retried on the next trigger or poll tick,
// rather than re-extracted immediately against a failing store.
func (m *Matchmaker) sweep(ctx context.Context, now time.Time) {
	for {
		cand := m.takePair(now)
		if cand == nil {
			break
		}
		if err := m.commit(ctx, cand); err != nil {
			break
		}
	}
	m.evictOverflow(ctx, now)
}

type candidate struct {
	anchor    *Entry
	partner   *Entry
	condition string
}

// takePair removes and returns the next matchable pair, or nil. Removal
// happens inside the pool mutex, before any notification or collaborator
// work, so a concurrent sweep can never double-match an entry.
func (m *Matchmaker) takePair(now time.Time) *candidate {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.pool.Ordered()

	// Priority pass: earliest anchor, first compatible partner in join
	// order.
	for i, anchor := range entries {
		for _, partner := range entries[i+1:] {
			if m.allowed(m.priority, anchor.Language, partner.Language) {
				return m.extract(anchor, partner, chat.ConditionExperiment)
			}
		}
	}

	// Control pass. Unless control matching is immediate, the anchor must
	// have aged past the wait threshold; the partner may be fresh.
	for i, anchor := range entries {
		if !m.cfg.ImmediateControl && anchor.Age(now) < m.cfg.MaxWait {
			continue
		}
		for _, partner := range entries[i+1:] {
			if m.allowed(m.control, anchor.Language, partner.Language) {
				return m.extract(anchor, partner, chat.ConditionControl)
			}
		}
	}

	return nil
}

func (m *Matchmaker) extract(anchor, partner *Entry, condition string) *candidate {
	m.pool.Remove(anchor.Client.ID)
	m.pool.Remove(partner.Client.ID)
	return &candidate{anchor: anchor, partner: partner, condition: condition}
}

func (m *Matchmaker) allowed(set map[config.LangPair]struct{}, a, b string) bool {
	_, ok := set[config.LangPair{A: a, B: b}.Normalize()]
	return ok
}

// commit creates the conversation record and, only once that succeeds,
// notifies both sides and starts the session. On persistence failure the
// match is rolled back: both entries return to the pool at their original
// positions and the error tells the sweep to stop pairing for now.
func (m *Matchmaker) commit(ctx context.Context, cand *candidate) error {
	anchor, partner := cand.anchor, cand.partner
	starterIndex := rand.IntN(len(m.cfg.Starters))

	conversationID, err := m.store.CreateConversation(ctx, store.NewConversation{
		User1ID:        anchor.Client.ID,
		User2ID:        partner.Client.ID,
		User1Lang:      anchor.Language,
		User2Lang:      partner.Language,
		Condition:      cand.condition,
		Model:          m.modelLabel,
		StarterIndex:   starterIndex,
		User1Presurvey: anchor.Presurvey,
		User2Presurvey: partner.Presurvey,
	})
	if err != nil {
		log.Printf("[match] create conversation failed, returning %s and %s to pool: %v",
			anchor.Client.ID, partner.Client.ID, err)
		m.restore(anchor, partner)
		return err
	}

	dyad := chat.Dyad{
		ConversationID: conversationID,
		Condition:      cand.condition,
		StarterIndex:   starterIndex,
		A:              chat.Participant{ID: anchor.Client.ID, Language: anchor.Language, JoinedAt: anchor.JoinedAt},
		B:              chat.Participant{ID: partner.Client.ID, Language: partner.Language, JoinedAt: partner.JoinedAt},
		CreatedAt:      m.now(),
	}

	log.Printf("[match] paired %s (%s) with %s (%s) conversation=%d condition=%s",
		anchor.Client.ID, anchor.Language, partner.Client.ID, partner.Language,
		conversationID, cand.condition)

	prompt := m.cfg.Starters[starterIndex]
	if err := anchor.Client.Send(wire.Paired(conversationID, prompt)); err != nil {
		log.Printf("[match] paired notice to %s failed: %v", anchor.Client.ID, err)
	}
	if err := partner.Client.Send(wire.Paired(conversationID, prompt)); err != nil {
		log.Printf("[match] paired notice to %s failed: %v", partner.Client.ID, err)
	}

	done, err := m.starter.Start(dyad, anchor.Client, partner.Client)
	if err != nil {
		log.Printf("[match] start session conversation=%d: %v", conversationID, err)
	}

	anchor.outcome <- Outcome{Dyad: &dyad, Done: done}
	partner.outcome <- Outcome{Dyad: &dyad, Done: done}
	return nil
}

func (m *Matchmaker) restore(entries ...*Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if err := m.pool.Enqueue(e); err != nil {
			log.Printf("[match] rollback enqueue %s: %v", e.Client.ID, err)
		}
	}
}

// evictOverflow removes entries that exceeded the wait threshold and have
// no compatible partner of any kind left in the pool.
func (m *Matchmaker) evictOverflow(ctx context.Context, now time.Time) {
	m.mu.Lock()
	entries := m.pool.Ordered()
	var evicted []*Entry
	for _, e := range entries {
		if e.Age(now) < m.cfg.MaxWait {
			continue
		}
		hasPartner := lo.SomeBy(entries, func(other *Entry) bool {
			if other == e || !m.pool.Contains(other.Client.ID) {
				return false
			}
			return m.allowed(m.priority, e.Language, other.Language) ||
				m.allowed(m.control, e.Language, other.Language)
		})
		if !hasPartner {
			m.pool.Remove(e.Client.ID)
			evicted = append(evicted, e)
		}
	}
	m.mu.Unlock()

	for _, e := range evicted {
		log.Printf("[match] participant=%s timed out after %s with no compatible partner",
			e.Client.ID, e.Age(now).Round(time.Second))
		if err := e.Client.Send(wire.WaitingRoomTimeout()); err != nil {
			log.Printf("[match] timeout notice to %s failed: %v", e.Client.ID, err)
		}
		m.notifier.NotifyOverflow(ctx, e.Client.ID)
		e.outcome <- Outcome{TimedOut: true}
	}
}
