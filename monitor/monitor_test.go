package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/live-notifier/store"
	"github.com/onnwee/live-notifier/twitchapi"
)

type lookupResult struct {
	stream *twitchapi.Stream
	err    error
}

var offline = lookupResult{}

func live(id string) lookupResult {
	return lookupResult{stream: &twitchapi.Stream{ID: id, UserLogin: "x", UserName: "X", Title: "title " + id}}
}

func failed(err error) lookupResult { return lookupResult{err: err} }

// scriptedLookup replays a fixed sequence of results per login. Once a script is exhausted the
// channel reports offline.
type scriptedLookup struct {
	mu     sync.Mutex
	script map[string][]lookupResult
	calls  map[string]int
	onCall func(login string)
}

func newScriptedLookup() *scriptedLookup {
	return &scriptedLookup{script: map[string][]lookupResult{}, calls: map[string]int{}}
}

func (l *scriptedLookup) set(login string, results ...lookupResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.script[login] = results
	l.calls[login] = 0
}

func (l *scriptedLookup) GetLiveStream(_ context.Context, login string) (*twitchapi.Stream, error) {
	l.mu.Lock()
	i := l.calls[login]
	l.calls[login]++
	results := l.script[login]
	hook := l.onCall
	l.mu.Unlock()

	if hook != nil {
		hook(login)
	}
	if i >= len(results) {
		return nil, nil
	}
	r := results[i]
	return r.stream, r.err
}

type announcement struct {
	tenant string
	sub    store.Subscription
	stream twitchapi.Stream
}

type recordingAnnouncer struct {
	mu   sync.Mutex
	sent []announcement
	err  error
}

func (a *recordingAnnouncer) Announce(_ context.Context, tenant string, sub store.Subscription, s twitchapi.Stream) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.sent = append(a.sent, announcement{tenant: tenant, sub: sub, stream: s})
	return nil
}

func (a *recordingAnnouncer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

func (a *recordingAnnouncer) streamIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.sent))
	for _, s := range a.sent {
		ids = append(ids, s.stream.ID)
	}
	return ids
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.OpenJSONFile(filepath.Join(t.TempDir(), "subscriptions.json"))
	require.NoError(t, err)
	return st
}

func lastStreamID(t *testing.T, st store.Store, tenant, name, channel string) *string {
	t.Helper()
	sub, err := st.Find(context.Background(), tenant, name, channel)
	require.NoError(t, err)
	return sub.LastStreamID
}

func TestDecide(t *testing.T) {
	a := "A"
	tests := []struct {
		name   string
		last   *string
		stream *twitchapi.Stream
		want   action
	}{
		{"idle offline", nil, nil, actionNone},
		{"idle live", nil, &twitchapi.Stream{ID: "A"}, actionAnnounce},
		{"announced offline", &a, nil, actionReset},
		{"announced same session", &a, &twitchapi.Stream{ID: "A"}, actionNone},
		{"announced new session", &a, &twitchapi.Stream{ID: "B"}, actionAnnounce},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decide(tt.last, tt.stream), "decide() = %s", decide(tt.last, tt.stream))
		})
	}
}

func TestSweep_NinjaScenario(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.Add(ctx, "T", store.Subscription{TwitchName: "ninja", ChannelID: "announcements", RoleIDs: []string{"live-role"}}))

	lookup := newScriptedLookup()
	lookup.set("ninja",
		offline,
		lookupResult{stream: &twitchapi.Stream{ID: "S1", UserLogin: "ninja", UserName: "Ninja", Title: "Big game"}},
		lookupResult{stream: &twitchapi.Stream{ID: "S1", UserLogin: "ninja", UserName: "Ninja", Title: "Big game"}},
		offline,
		lookupResult{stream: &twitchapi.Stream{ID: "S2", UserLogin: "ninja", UserName: "Ninja"}},
	)
	ann := &recordingAnnouncer{}
	m := New(st, lookup, ann, Config{})

	steps := []struct {
		wantAnnouncements int
		wantState         *string
	}{
		{0, nil},
		{1, ptr("S1")},
		{1, ptr("S1")},
		{1, nil},
		{2, ptr("S2")},
	}
	for i, step := range steps {
		_, err := m.Sweep(ctx)
		require.NoError(t, err)
		assert.Equal(t, step.wantAnnouncements, ann.count(), "sweep %d announcements", i+1)
		assert.Equal(t, step.wantState, lastStreamID(t, st, "T", "ninja", "announcements"), "sweep %d state", i+1)
	}

	require.Len(t, ann.sent, 2)
	first := ann.sent[0]
	assert.Equal(t, "T", first.tenant)
	assert.Equal(t, "Big game", first.stream.Title)
	assert.Equal(t, []string{"live-role"}, first.sub.RoleIDs)
	require.NotNil(t, first.sub.LastStreamID)
	assert.Equal(t, "S1", *first.sub.LastStreamID)
}

func TestSweep_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		script  []lookupResult
		wantIDs []string
	}{
		{"same session twice announces once", []lookupResult{live("A"), live("A")}, []string{"A"}},
		{"reset then same session re-announces", []lookupResult{live("A"), offline, live("A")}, []string{"A", "A"}},
		{"session swap without offline", []lookupResult{live("A"), live("B")}, []string{"A", "B"}},
		{"offline only", []lookupResult{offline, offline}, []string{}},
		{"failure keeps state", []lookupResult{live("A"), failed(twitchapi.ErrUpstreamQuery), live("A")}, []string{"A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := newTestStore(t)
			require.NoError(t, st.Add(ctx, "g", store.Subscription{TwitchName: "chan", ChannelID: "c"}))
			lookup := newScriptedLookup()
			lookup.set("chan", tt.script...)
			ann := &recordingAnnouncer{}
			m := New(st, lookup, ann, Config{})

			for range tt.script {
				_, err := m.Sweep(ctx)
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantIDs, ann.streamIDs())
		})
	}
}

// TestSweep_MarkerInvariant replays random observation sequences and checks the marker always
// equals the most recent live session since the last offline observation, with exactly one
// announcement per distinct value the marker takes.
func TestSweep_MarkerInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for run := 0; run < 20; run++ {
		ctx := context.Background()
		st := newTestStore(t)
		require.NoError(t, st.Add(ctx, "g", store.Subscription{TwitchName: "chan", ChannelID: "c"}))

		script := make([]lookupResult, 30)
		for i := range script {
			switch n := rng.IntN(4); n {
			case 0:
				script[i] = offline
			default:
				script[i] = live(fmt.Sprintf("S%d", n))
			}
		}
		lookup := newScriptedLookup()
		lookup.set("chan", script...)
		ann := &recordingAnnouncer{}
		m := New(st, lookup, ann, Config{})

		var (
			want     *string
			expected []string
		)
		for i, r := range script {
			_, err := m.Sweep(ctx)
			require.NoError(t, err)
			switch {
			case r.stream == nil:
				want = nil
			case want == nil || *want != r.stream.ID:
				id := r.stream.ID
				want = &id
				expected = append(expected, id)
			}
			require.Equal(t, want, lastStreamID(t, st, "g", "chan", "c"), "run %d step %d", run, i)
		}
		if expected == nil {
			expected = []string{}
		}
		require.Equal(t, expected, ann.streamIDs(), "run %d", run)
	}
}

func TestSweep_FailureIsolation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.Add(ctx, "a", store.Subscription{TwitchName: "broken", ChannelID: "c"}))
	require.NoError(t, st.Add(ctx, "a", store.Subscription{TwitchName: "timeout", ChannelID: "c"}))
	require.NoError(t, st.Add(ctx, "a", store.Subscription{TwitchName: "healthy", ChannelID: "c"}))
	require.NoError(t, st.Add(ctx, "b", store.Subscription{TwitchName: "other", ChannelID: "d"}))

	lookup := newScriptedLookup()
	lookup.set("broken", failed(fmt.Errorf("%w: status 500", twitchapi.ErrUpstreamQuery)))
	lookup.set("timeout", failed(context.DeadlineExceeded))
	lookup.set("healthy", live("H1"))
	lookup.set("other", live("O1"))
	ann := &recordingAnnouncer{}
	m := New(st, lookup, ann, Config{})

	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 4, Live: 2, Announced: 2, Failed: 2}, res)
	assert.ElementsMatch(t, []string{"H1", "O1"}, ann.streamIDs())
	assert.Nil(t, lastStreamID(t, st, "a", "broken", "c"), "failed lookup must not write")
	assert.Nil(t, lastStreamID(t, st, "a", "timeout", "c"))
}

func TestSweep_AnnounceFailureDoesNotRetry(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.Add(ctx, "g", store.Subscription{TwitchName: "chan", ChannelID: "c"}))
	lookup := newScriptedLookup()
	lookup.set("chan", live("A"), live("A"))
	ann := &recordingAnnouncer{err: errors.New("discord down")}
	m := New(st, lookup, ann, Config{})

	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, ptr("A"), lastStreamID(t, st, "g", "chan", "c"), "state is saved before delivery")

	ann.mu.Lock()
	ann.err = nil
	ann.mu.Unlock()
	_, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, ann.count(), "the same session is never re-announced")
}

type failingWrites struct {
	store.Store
}

func (f failingWrites) SetLastStreamID(context.Context, string, string, string, *string) error {
	return errors.New("disk full")
}

func TestSweep_PersistFailureSkipsAnnouncement(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.Add(ctx, "g", store.Subscription{TwitchName: "chan", ChannelID: "c"}))
	lookup := newScriptedLookup()
	lookup.set("chan", live("A"))
	ann := &recordingAnnouncer{}
	m := New(failingWrites{st}, lookup, ann, Config{})

	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, ann.count())
}

func TestSweep_PerDestinationState(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.Add(ctx, "g", store.Subscription{TwitchName: "chan", ChannelID: "c1"}))
	require.NoError(t, st.Add(ctx, "g", store.Subscription{TwitchName: "chan", ChannelID: "c2"}))
	lookup := newScriptedLookup()
	lookup.set("chan", live("A"), live("A"))
	ann := &recordingAnnouncer{}
	m := New(st, lookup, ann, Config{})

	_, err := m.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, ann.count())
	assert.Equal(t, "c1", ann.sent[0].sub.ChannelID)
	assert.Equal(t, "c2", ann.sent[1].sub.ChannelID)
}

func TestSweep_UnfollowDuringSweep(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	require.NoError(t, st.Add(ctx, "g", store.Subscription{TwitchName: "chan", ChannelID: "c"}))
	lookup := newScriptedLookup()
	lookup.set("chan", live("A"))
	lookup.onCall = func(login string) {
		_, err := st.RemoveByChannel(ctx, "g", login)
		assert.NoError(t, err)
	}
	ann := &recordingAnnouncer{}
	m := New(st, lookup, ann, Config{})

	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Failed)
	assert.Zero(t, ann.count())
}

func TestSweep_Canceled(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Add(context.Background(), "g", store.Subscription{TwitchName: "chan", ChannelID: "c"}))
	m := New(st, newScriptedLookup(), &recordingAnnouncer{}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := m.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Checked)
}

func TestRun_TicksOnInterval(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.Add(context.Background(), "g", store.Subscription{TwitchName: "chan", ChannelID: "c"}))
	lookup := newScriptedLookup()
	lookup.set("chan", live("A"), offline, live("B"))
	ann := &recordingAnnouncer{}
	clock := clockwork.NewFakeClock()
	m := New(st, lookup, ann, Config{Interval: time.Minute, Clock: clock, RunImmediately: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	// RunImmediately sweeps before the ticker exists.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, []string{"A"}, ann.streamIDs())

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		sub, err := st.Find(context.Background(), "g", "chan", "c")
		return err == nil && sub.LastStreamID == nil
	}, time.Second, 5*time.Millisecond)

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return ann.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"A", "B"}, ann.streamIDs())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func ptr(s string) *string { return &s }
