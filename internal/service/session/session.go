// Package session runs a bounded-duration conversation between a matched
// dyad: concurrent receive, translated relay, control-event handling, the
// expiry countdown, and teardown.
package session

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/abadojack/whatlanggo"

	"github.com/lingolab/pairchat/backend/internal/config"
	"github.com/lingolab/pairchat/backend/internal/model/chat"
	"github.com/lingolab/pairchat/backend/internal/model/wire"
	"github.com/lingolab/pairchat/backend/internal/service/registry"
)

// State is the coordinator's phase.
type State string

const (
	StateActive State = "active"
	StateEnding State = "ending"
	StateClosed State = "closed"
)

// Recorder is the slice of the persistence collaborator the coordinator
// needs. Every call is independently committed; none is made while
// holding in-memory locks.
type Recorder interface {
	AppendHistoryEntry(ctx context.Context, conversationID int64, entry chat.HistoryEntry) error
	RecordPostSurvey(ctx context.Context, conversationID int64, side int, payload []byte) error
	RecordConversationLength(ctx context.Context, conversationID int64, d time.Duration) error
}

// Translator converts a chat turn between the peers' declared languages.
// Implementations never fail upward: they return a sentinel string when
// the provider is unavailable.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) string
}

type eventKind int

const (
	evFrame eventKind = iota
	evGone
	evExpired
)

type event struct {
	peer    *peer
	kind    eventKind
	payload []byte
}

// peer is one half of the dyad as the coordinator sees it.
type peer struct {
	client       *registry.Client
	participant  chat.Participant
	side         int
	other        *peer
	surveyed     bool
	disconnected bool
}

func (p *peer) resolved() bool { return p.surveyed || p.disconnected }

// Session owns all runtime state for one conversation. Only the run
// goroutine touches that state; pumps and the timer communicate through
// the events channel.
type Session struct {
	dyad       chat.Dyad
	a, b       *peer
	recorder   Recorder
	translator Translator
	reg        *registry.Registry
	cfg        config.SessionConfig
	onClose    func(conversationID int64)

	state     State
	startedAt time.Time
	timer     *Timer
	events    chan event
	done      chan struct{}
}

func newSession(dyad chat.Dyad, a, b *registry.Client, recorder Recorder, translator Translator, reg *registry.Registry, cfg config.SessionConfig, onClose func(int64)) *Session {
	s := &Session{
		dyad:       dyad,
		recorder:   recorder,
		translator: translator,
		reg:        reg,
		cfg:        cfg,
		onClose:    onClose,
		state:      StateActive,
		startedAt:  dyad.CreatedAt,
		events:     make(chan event, 16),
		done:       make(chan struct{}),
	}
	s.a = &peer{client: a, participant: dyad.A, side: 1}
	s.b = &peer{client: b, participant: dyad.B, side: 2}
	s.a.other, s.b.other = s.b, s.a
	return s
}

// Done is closed once the session reaches its terminal state and every
// per-conversation resource has been released.
func (s *Session) Done() <-chan struct{} { return s.done }

// ConversationID returns the shared key of the dyad.
func (s *Session) ConversationID() int64 { return s.dyad.ConversationID }

func (s *Session) run(ctx context.Context) {
	defer s.teardown()

	log.Printf("[session] conversation=%d started (%s vs %s)",
		s.dyad.ConversationID, s.a.participant.Language, s.b.participant.Language)

	s.timer = startTimer(s.cfg.ChatDuration, s.cfg.TimerTick, s.broadcastTick, s.signalExpiry)

	go s.pump(s.a)
	go s.pump(s.b)

	for s.state != StateClosed {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
		if s.state == StateEnding && s.a.resolved() && s.b.resolved() {
			s.state = StateClosed
		}
	}
}

// pump forwards a peer's inbound frames into the coordinator, one
// receive in flight at a time, and reports the disconnect that ends it.
func (s *Session) pump(p *peer) {
	for payload := range p.client.Inbox() {
		s.deliver(event{peer: p, kind: evFrame, payload: payload})
	}
	s.deliver(event{peer: p, kind: evGone})
}

// deliver drops events on the floor once the session has closed, so
// pumps and the timer can never block on a finished coordinator.
func (s *Session) deliver(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) broadcastTick(remainingSeconds int) {
	payload := wire.Timer(remainingSeconds)
	_ = s.a.client.Send(payload)
	_ = s.b.client.Send(payload)
}

func (s *Session) signalExpiry() {
	s.deliver(event{kind: evExpired})
}

func (s *Session) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evExpired:
		s.handleExpiry(ctx)
	case evGone:
		s.handleDisconnect(ctx, ev.peer)
	case evFrame:
		s.handleFrame(ctx, ev.peer, ev.payload)
	}
}

func (s *Session) handleExpiry(ctx context.Context) {
	if s.state != StateActive {
		return
	}
	log.Printf("[session] conversation=%d timer expired", s.dyad.ConversationID)
	s.enterEnding(ctx)
	s.broadcast(wire.Expired(s.dyad.ConversationID))
}

func (s *Session) handleDisconnect(ctx context.Context, p *peer) {
	if p.disconnected {
		return
	}
	p.disconnected = true
	log.Printf("[session] conversation=%d participant=%s disconnected",
		s.dyad.ConversationID, p.client.ID)

	if p.other.disconnected {
		s.state = StateClosed
		return
	}

	if s.state == StateActive {
		// The survivor is told once and still gets to submit a survey.
		s.sendTo(p.other, wire.Info("Your partner has left the chat."))
		s.enterEnding(ctx)
		s.sendTo(p.other, wire.SurveyPrompt(s.dyad.ConversationID))
	}
}

func (s *Session) handleFrame(ctx context.Context, p *peer, payload []byte) {
	var in wire.Inbound
	if err := json.Unmarshal(payload, &in); err != nil {
		log.Printf("[session] conversation=%d malformed frame from %s: %v",
			s.dyad.ConversationID, p.client.ID, err)
		return
	}

	switch in.Type {
	case wire.TypeMessage:
		s.relayMessage(ctx, p, in.Text)
	case wire.TypeTyping:
		s.sendTo(p.other, wire.Typing("typing"))
	case wire.TypeStopTyping:
		s.sendTo(p.other, wire.Typing("stopped"))
	case wire.TypeEndChat:
		s.handleEndChat(ctx, p)
	case wire.TypeSurvey:
		s.handleSurvey(ctx, p, payload)
	default:
		log.Printf("[session] conversation=%d unhandled message type %q from %s",
			s.dyad.ConversationID, in.Type, p.client.ID)
	}
}

// relayMessage translates, forwards, and records one chat turn. A failed
// history append loses only that turn; it never stalls the conversation.
func (s *Session) relayMessage(ctx context.Context, p *peer, text string) {
	if text == "" {
		log.Printf("[session] conversation=%d empty message from %s discarded",
			s.dyad.ConversationID, p.client.ID)
		return
	}

	translated := s.translator.Translate(ctx, text, p.participant.Language, p.other.participant.Language)
	s.sendTo(p.other, wire.Message(translated))

	entry := chat.HistoryEntry{
		Sender:       p.client.ID,
		Text:         text,
		Translation:  translated,
		DetectedLang: whatlanggo.LangToString(whatlanggo.Detect(text).Lang),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.recorder.AppendHistoryEntry(ctx, s.dyad.ConversationID, entry); err != nil {
		log.Printf("[session] conversation=%d history append lost turn from %s: %v",
			s.dyad.ConversationID, p.client.ID, err)
	}
}

func (s *Session) handleEndChat(ctx context.Context, p *peer) {
	if s.state != StateActive {
		log.Printf("[session] conversation=%d endChat from %s ignored in state %s",
			s.dyad.ConversationID, p.client.ID, s.state)
		return
	}
	log.Printf("[session] conversation=%d ended by participant=%s",
		s.dyad.ConversationID, p.client.ID)
	s.enterEnding(ctx)
	s.broadcast(wire.SurveyPrompt(s.dyad.ConversationID))
}

func (s *Session) handleSurvey(ctx context.Context, p *peer, payload []byte) {
	if s.state != StateEnding {
		log.Printf("[session] conversation=%d survey from %s before chat ended, discarded",
			s.dyad.ConversationID, p.client.ID)
		return
	}

	if p.surveyed {
		log.Printf("[session] conversation=%d duplicate survey from %s rejected",
			s.dyad.ConversationID, p.client.ID)
		s.sendTo(p, wire.SurveyCompleted(s.dyad.ConversationID))
		return
	}

	if err := s.recorder.RecordPostSurvey(ctx, s.dyad.ConversationID, p.side, payload); err != nil {
		// The submission is acknowledged regardless: a storage fault must
		// not strand the participant in the survey screen.
		log.Printf("[session] conversation=%d store survey side=%d: %v",
			s.dyad.ConversationID, p.side, err)
	}
	p.surveyed = true
	s.sendTo(p, wire.SurveyCompleted(s.dyad.ConversationID))
}

// enterEnding cancels the countdown and records the conversation length.
// Callers broadcast their own notice (survey prompt or expiry).
func (s *Session) enterEnding(ctx context.Context) {
	if s.state != StateActive {
		return
	}
	s.state = StateEnding
	s.timer.Stop()

	duration := time.Since(s.startedAt)
	if err := s.recorder.RecordConversationLength(ctx, s.dyad.ConversationID, duration); err != nil {
		log.Printf("[session] conversation=%d record length: %v", s.dyad.ConversationID, err)
	}
}

func (s *Session) broadcast(payload map[string]any) {
	s.sendTo(s.a, payload)
	s.sendTo(s.b, payload)
}

func (s *Session) sendTo(p *peer, payload map[string]any) {
	if p.disconnected {
		return
	}
	if err := p.client.Send(payload); err != nil {
		log.Printf("[session] conversation=%d send to %s failed: %v",
			s.dyad.ConversationID, p.client.ID, err)
	}
}

// teardown runs on every exit path: countdown cancelled, both
// connections released, bookkeeping purged.
func (s *Session) teardown() {
	s.state = StateClosed
	if s.timer != nil {
		s.timer.Stop()
	}
	close(s.done)
	s.reg.Release(s.a.client)
	s.reg.Release(s.b.client)
	if s.onClose != nil {
		s.onClose(s.dyad.ConversationID)
	}
	log.Printf("[session] conversation=%d closed", s.dyad.ConversationID)
}
