package match

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingolab/pairchat/backend/internal/config"
	"github.com/lingolab/pairchat/backend/internal/model/chat"
	"github.com/lingolab/pairchat/backend/internal/service/registry"
	"github.com/lingolab/pairchat/backend/internal/service/store"
)

type fakeCreator struct {
	mu       sync.Mutex
	nextID   int64
	failures int
	calls    int
	created  []store.NewConversation
}

func (f *fakeCreator) CreateConversation(_ context.Context, nc store.NewConversation) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return 0, errors.New("database unavailable")
	}
	f.nextID++
	f.created = append(f.created, nc)
	return f.nextID, nil
}

func (f *fakeCreator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStarter struct {
	mu      sync.Mutex
	started []chat.Dyad
	done    chan struct{}
}

func newFakeStarter() *fakeStarter {
	return &fakeStarter{done: make(chan struct{})}
}

func (f *fakeStarter) Start(dyad chat.Dyad, _, _ *registry.Client) (<-chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, dyad)
	return f.done, nil
}

type fakeNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeNotifier) NotifyOverflow(_ context.Context, participantID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, participantID)
}

type matcherFixture struct {
	m        *Matchmaker
	reg      *registry.Registry
	creator  *fakeCreator
	starter  *fakeStarter
	notifier *fakeNotifier
	clock    time.Time
}

func newFixture(t *testing.T, mutate ...func(*config.MatchConfig)) *matcherFixture {
	t.Helper()
	cfg := config.MatchConfig{
		PriorityPairs: []config.LangPair{
			{A: "english", B: "chinese"},
			{A: "english", B: "spanish"},
		},
		ControlPairs: []config.LangPair{
			{A: "english", B: "english"},
			{A: "chinese", B: "chinese"},
		},
		MaxWait:      5 * time.Minute,
		PollInterval: time.Second,
		Starters:     []string{"What made you smile today?"},
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	f := &matcherFixture{
		reg:      registry.New(registry.WithReadTimeout(0)),
		creator:  &fakeCreator{},
		starter:  newFakeStarter(),
		notifier: &fakeNotifier{},
		clock:    time.Now(),
	}
	f.m = New(cfg, f.creator, f.starter, f.notifier, "test-model")
	f.m.now = func() time.Time { return f.clock }
	return f
}

func (f *matcherFixture) submit(t *testing.T, id, lang string) (*fakeConn, <-chan Outcome) {
	t.Helper()
	client, conn := newClient(t, f.reg, id)
	outcomes, err := f.m.Submit(client, lang, nil)
	require.NoError(t, err)
	return conn, outcomes
}

func (f *matcherFixture) sweep() {
	f.m.sweep(context.Background(), f.clock)
}

func resolved(t *testing.T, outcomes <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-outcomes:
		return o
	case <-time.After(time.Second):
		t.Fatal("outcome never resolved")
		return Outcome{}
	}
}

func TestPriorityPairMatches(t *testing.T) {
	f := newFixture(t)
	connA, outA := f.submit(t, "alice", "english")
	connB, outB := f.submit(t, "bob", "chinese")

	f.sweep()

	oa, ob := resolved(t, outA), resolved(t, outB)
	require.NotNil(t, oa.Dyad)
	require.NotNil(t, ob.Dyad)
	assert.Equal(t, oa.Dyad.ConversationID, ob.Dyad.ConversationID)
	assert.Equal(t, chat.ConditionExperiment, oa.Dyad.Condition)

	assert.Contains(t, connA.sentTypes(), "paired")
	assert.Contains(t, connB.sentTypes(), "paired")
	assert.Equal(t, 0, f.m.WaitingCount())

	require.Len(t, f.creator.created, 1)
	assert.Equal(t, "test-model", f.creator.created[0].Model)
	assert.Equal(t, chat.ConditionExperiment, f.creator.created[0].Condition)
	require.Len(t, f.starter.started, 1)
}

func TestNoEntryMatchedTwice(t *testing.T) {
	f := newFixture(t)
	_, outA := f.submit(t, "alice", "english")
	_, outB := f.submit(t, "bob", "chinese")
	_, outC := f.submit(t, "carol", "chinese")

	f.sweep()
	f.sweep()

	oa, ob := resolved(t, outA), resolved(t, outB)
	assert.Equal(t, oa.Dyad.ConversationID, ob.Dyad.ConversationID)

	select {
	case <-outC:
		t.Fatal("carol should still be waiting")
	default:
	}
	assert.Equal(t, 1, f.m.WaitingCount())
	assert.Len(t, f.starter.started, 1)
}

func TestPriorityPassIsFIFOFair(t *testing.T) {
	f := newFixture(t)
	_, outA := f.submit(t, "early", "english")
	f.clock = f.clock.Add(time.Second)
	_, _ = f.submit(t, "late", "english")
	f.clock = f.clock.Add(time.Second)
	_, _ = f.submit(t, "partner", "chinese")

	f.sweep()

	oa := resolved(t, outA)
	require.NotNil(t, oa.Dyad)
	assert.Equal(t, "early", oa.Dyad.A.ID)
	assert.Equal(t, "partner", oa.Dyad.B.ID)
	assert.Equal(t, 1, f.m.WaitingCount())
}

func TestControlPairWaitsForEscalation(t *testing.T) {
	f := newFixture(t)
	_, outA := f.submit(t, "alice", "english")
	_, outB := f.submit(t, "bob", "english")

	f.sweep()
	assert.Equal(t, 2, f.m.WaitingCount(), "control pair must not match before the wait threshold")

	f.clock = f.clock.Add(6 * time.Minute)
	f.sweep()

	oa, ob := resolved(t, outA), resolved(t, outB)
	assert.Equal(t, chat.ConditionControl, oa.Dyad.Condition)
	assert.Equal(t, oa.Dyad.ConversationID, ob.Dyad.ConversationID)
}

func TestImmediateControlMatchesAtOnce(t *testing.T) {
	f := newFixture(t, func(cfg *config.MatchConfig) { cfg.ImmediateControl = true })
	_, outA := f.submit(t, "alice", "english")
	_, _ = f.submit(t, "bob", "english")

	f.sweep()

	oa := resolved(t, outA)
	require.NotNil(t, oa.Dyad)
	assert.Equal(t, chat.ConditionControl, oa.Dyad.Condition)
}

func TestOverflowEvictsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	conn, out := f.submit(t, "loner", "french")

	f.sweep()
	assert.Equal(t, 1, f.m.WaitingCount())

	f.clock = f.clock.Add(6 * time.Minute)
	f.sweep()
	f.sweep()

	o := resolved(t, out)
	assert.True(t, o.TimedOut)
	assert.Nil(t, o.Dyad)
	assert.Contains(t, conn.sentTypes(), "waitingRoomTimeout")
	assert.Equal(t, []string{"loner"}, f.notifier.ids)
	assert.Equal(t, 0, f.m.WaitingCount())
}

func TestExpiredEntryWithPartnerIsNotEvicted(t *testing.T) {
	f := newFixture(t)
	_, outA := f.submit(t, "alice", "english")
	f.clock = f.clock.Add(6 * time.Minute)
	_, outB := f.submit(t, "bob", "english")

	f.sweep()

	oa, ob := resolved(t, outA), resolved(t, outB)
	require.NotNil(t, oa.Dyad)
	assert.Equal(t, chat.ConditionControl, oa.Dyad.Condition)
	assert.Equal(t, oa.Dyad.ConversationID, ob.Dyad.ConversationID)
	assert.Empty(t, f.notifier.ids)
}

func TestMatchRollsBackWhenCreateFails(t *testing.T) {
	f := newFixture(t)
	f.creator.failures = 1

	_, outA := f.submit(t, "alice", "english")
	_, outB := f.submit(t, "bob", "chinese")

	f.sweep()
	assert.Equal(t, 2, f.m.WaitingCount(), "both entries return to the pool on commit failure")
	select {
	case <-outA:
		t.Fatal("outcome must not resolve on a rolled-back match")
	default:
	}

	f.sweep()
	oa, ob := resolved(t, outA), resolved(t, outB)
	assert.Equal(t, oa.Dyad.ConversationID, ob.Dyad.ConversationID)
	assert.Len(t, f.starter.started, 1)
}

func TestPersistentCreateFailureStopsTheSweep(t *testing.T) {
	f := newFixture(t)
	f.creator.failures = 1 << 30

	_, outA := f.submit(t, "alice", "english")
	_, _ = f.submit(t, "bob", "chinese")

	f.sweep()
	f.sweep()

	assert.Equal(t, 2, f.creator.callCount(), "one create attempt per sweep while the store is down")
	assert.Equal(t, 2, f.m.WaitingCount())
	select {
	case <-outA:
		t.Fatal("outcome must not resolve while the store is down")
	default:
	}
}

func TestEmptyStarterListYieldsBlankPrompt(t *testing.T) {
	f := newFixture(t, func(cfg *config.MatchConfig) { cfg.Starters = nil })
	connA, outA := f.submit(t, "alice", "english")
	_, _ = f.submit(t, "bob", "chinese")

	f.sweep()

	oa := resolved(t, outA)
	require.NotNil(t, oa.Dyad)
	assert.Equal(t, 0, oa.Dyad.StarterIndex)
	paired, ok := connA.lastOfType("paired")
	require.True(t, ok)
	assert.Equal(t, "", paired["prompt"])
}

func TestWithdrawRemovesWaitingEntry(t *testing.T) {
	f := newFixture(t)
	_, _ = f.submit(t, "alice", "english")

	assert.True(t, f.m.Withdraw("alice"))
	assert.False(t, f.m.Withdraw("alice"))
	assert.Equal(t, 0, f.m.WaitingCount())
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	client, _ := newClient(t, f.reg, "alice")

	_, err := f.m.Submit(client, "", nil)
	assert.ErrorIs(t, err, ErrLanguageRequired)

	_, err = f.m.Submit(client, "english", nil)
	require.NoError(t, err)
	_, err = f.m.Submit(client, "english", nil)
	assert.ErrorIs(t, err, ErrAlreadyWaiting)
}
