package match

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAnnouncer struct {
	mu        sync.Mutex
	expired   []Snapshot
	forfeited []Snapshot
	losers    []string
}

func (a *recordingAnnouncer) LobbyExpired(m Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expired = append(a.expired, m)
}

func (a *recordingAnnouncer) Forfeited(m Snapshot, loserID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.forfeited = append(a.forfeited, m)
	a.losers = append(a.losers, loserID)
}

func (a *recordingAnnouncer) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.expired), len(a.forfeited)
}

func newTestRegistry(lobby, turn time.Duration) (*Registry, *recordingAnnouncer) {
	ann := &recordingAnnouncer{}
	return NewRegistry(Config{LobbyTTL: lobby, TurnTTL: turn}, ann), ann
}

func TestFindOrCreatePairsPlayers(t *testing.T) {
	r, _ := newTestRegistry(time.Minute, time.Minute)

	snap, created, err := r.FindOrCreate("alice", "chat1", "")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, StateWaiting, snap.State)
	require.Equal(t, "alice", snap.PlayerX)

	snap, created, err = r.FindOrCreate("bob", "chat2", "")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, StatePlaying, snap.State)
	require.Equal(t, "bob", snap.PlayerO)
	require.Equal(t, "alice", snap.Turn, "X moves first")
	assert.Equal(t, []string{"chat1", "chat2"}, snap.Chats())
}

func TestSeparateRoomsDoNotPair(t *testing.T) {
	r, _ := newTestRegistry(time.Minute, time.Minute)

	_, created, err := r.FindOrCreate("alice", "c", "alpha")
	require.NoError(t, err)
	require.True(t, created)

	snap, created, err := r.FindOrCreate("bob", "c", "beta")
	require.NoError(t, err)
	require.True(t, created, "different room name opens a new lobby")
	require.Equal(t, StateWaiting, snap.State)
}

func TestAlreadyInGame(t *testing.T) {
	r, _ := newTestRegistry(time.Minute, time.Minute)

	_, _, err := r.FindOrCreate("alice", "c", "")
	require.NoError(t, err)

	// Creator cannot open or join a second game, even their own lobby.
	_, _, err = r.FindOrCreate("alice", "c", "")
	require.ErrorIs(t, err, ErrAlreadyInGame)

	_, _, err = r.FindOrCreate("bob", "c", "")
	require.NoError(t, err)

	_, _, err = r.FindOrCreate("bob", "c", "other")
	require.ErrorIs(t, err, ErrAlreadyInGame)
}

func TestTopRowWin(t *testing.T) {
	r, _ := newTestRegistry(time.Minute, time.Minute)
	_, _, err := r.FindOrCreate("a", "c", "")
	require.NoError(t, err)
	_, _, err = r.FindOrCreate("b", "c", "")
	require.NoError(t, err)

	// a: 0,1,2 (top row), b: 3,4
	for _, mv := range []struct {
		player string
		cell   int
	}{{"a", 0}, {"b", 3}, {"a", 1}, {"b", 4}} {
		snap, err := r.Move(mv.player, mv.cell)
		require.NoError(t, err)
		require.Equal(t, StatePlaying, snap.State)
	}

	snap, err := r.Move("a", 2)
	require.NoError(t, err)
	require.Equal(t, StateEnded, snap.State)
	require.Equal(t, OutcomeWin, snap.Outcome)
	require.Equal(t, "a", snap.Winner)

	// Terminal matches are released; nobody can move on them.
	_, err = r.Move("b", 5)
	require.ErrorIs(t, err, ErrGameNotActive)
	require.Zero(t, r.Len())
}

func TestDrawGame(t *testing.T) {
	r, _ := newTestRegistry(time.Minute, time.Minute)
	_, _, err := r.FindOrCreate("a", "c", "")
	require.NoError(t, err)
	_, _, err = r.FindOrCreate("b", "c", "")
	require.NoError(t, err)

	// a: 0,2,3,7,8  b: 1,4,5,6. Full board, no line for either side.
	seq := []struct {
		player string
		cell   int
	}{
		{"a", 0}, {"b", 1}, {"a", 2},
		{"b", 4}, {"a", 3}, {"b", 5},
		{"a", 7}, {"b", 6}, {"a", 8},
	}
	var last Snapshot
	for _, mv := range seq {
		var err error
		last, err = r.Move(mv.player, mv.cell)
		require.NoError(t, err)
	}
	require.Equal(t, StateEnded, last.State)
	require.Equal(t, OutcomeDraw, last.Outcome)
	require.Empty(t, last.Winner)
	require.Zero(t, r.Len())
}

func TestMoveValidation(t *testing.T) {
	r, _ := newTestRegistry(time.Minute, time.Minute)
	_, _, err := r.FindOrCreate("a", "c", "")
	require.NoError(t, err)

	// WAITING match is not active for moves.
	_, err = r.Move("a", 0)
	require.ErrorIs(t, err, ErrGameNotActive)

	_, _, err = r.FindOrCreate("b", "c", "")
	require.NoError(t, err)

	_, err = r.Move("b", 0)
	require.ErrorIs(t, err, ErrNotYourTurn)

	_, err = r.Move("a", 0)
	require.NoError(t, err)

	// Occupied cell, and the turn must not have advanced for b's benefit.
	_, err = r.Move("b", 0)
	require.Error(t, err)

	snap, ok := r.FindByPlayer("b")
	require.True(t, ok)
	require.Equal(t, 1, snap.Moves)
	require.Equal(t, "b", snap.Turn)
}

func TestSurrender(t *testing.T) {
	r, _ := newTestRegistry(time.Minute, time.Minute)
	_, _, err := r.FindOrCreate("a", "c", "")
	require.NoError(t, err)
	_, _, err = r.FindOrCreate("b", "c", "")
	require.NoError(t, err)

	snap, err := r.Surrender("b")
	require.NoError(t, err)
	require.Equal(t, StateEnded, snap.State)
	require.Equal(t, OutcomeSurrender, snap.Outcome)
	require.Equal(t, "a", snap.Winner)

	_, err = r.Surrender("a")
	require.ErrorIs(t, err, ErrGameNotActive)
}

func TestLobbyExpiry(t *testing.T) {
	r, ann := newTestRegistry(20*time.Millisecond, time.Minute)
	_, _, err := r.FindOrCreate("a", "c", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		e, _ := ann.counts()
		return e == 1
	}, time.Second, 5*time.Millisecond)

	require.Zero(t, r.Len())
	_, err = r.Move("a", 0)
	require.ErrorIs(t, err, ErrGameNotActive)

	// The initiator is free to start a new game afterwards.
	_, created, err := r.FindOrCreate("a", "c", "")
	require.NoError(t, err)
	require.True(t, created)
}

func TestInactivityForfeit(t *testing.T) {
	r, ann := newTestRegistry(time.Minute, 20*time.Millisecond)
	_, _, err := r.FindOrCreate("a", "c", "")
	require.NoError(t, err)
	_, _, err = r.FindOrCreate("b", "c", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, f := ann.counts()
		return f == 1
	}, time.Second, 5*time.Millisecond)

	ann.mu.Lock()
	require.Equal(t, "a", ann.losers[0], "player to move forfeits")
	require.Equal(t, OutcomeForfeit, ann.forfeited[0].Outcome)
	require.Equal(t, "b", ann.forfeited[0].Winner)
	ann.mu.Unlock()
	require.Zero(t, r.Len())

	// Timer fires exactly once.
	time.Sleep(60 * time.Millisecond)
	_, f := ann.counts()
	require.Equal(t, 1, f)
}

func TestMoveResetsInactivityTimer(t *testing.T) {
	r, ann := newTestRegistry(time.Minute, 50*time.Millisecond)
	_, _, err := r.FindOrCreate("a", "c", "")
	require.NoError(t, err)
	_, _, err = r.FindOrCreate("b", "c", "")
	require.NoError(t, err)

	// Keep moving before the window elapses; no forfeit may fire.
	for i, mv := range []struct {
		player string
		cell   int
	}{{"a", 0}, {"b", 4}, {"a", 8}} {
		time.Sleep(30 * time.Millisecond)
		_, err := r.Move(mv.player, mv.cell)
		require.NoError(t, err, "move %d", i)
	}
	_, f := ann.counts()
	require.Zero(t, f)
}

func TestFinishedMatchCancelsTimer(t *testing.T) {
	r, ann := newTestRegistry(time.Minute, 30*time.Millisecond)
	_, _, err := r.FindOrCreate("a", "c", "")
	require.NoError(t, err)
	_, _, err = r.FindOrCreate("b", "c", "")
	require.NoError(t, err)

	snap, err := r.Surrender("a")
	require.NoError(t, err)
	require.Equal(t, StateEnded, snap.State)

	time.Sleep(80 * time.Millisecond)
	e, f := ann.counts()
	require.Zero(t, e)
	require.Zero(t, f, "no forfeit after a terminal transition")
}
