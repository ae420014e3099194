package match

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mellowbyte/wa-arcade-bot/internal/board"
	"github.com/mellowbyte/wa-arcade-bot/internal/obslog"
)

// Announcer delivers timer-driven match notices. Implementations send chat
// messages and must not call back into the Registry.
type Announcer interface {
	LobbyExpired(m Snapshot)
	Forfeited(m Snapshot, loserID string)
}

type Config struct {
	LobbyTTL time.Duration // how long a WAITING match may sit unclaimed
	TurnTTL  time.Duration // inactivity window during PLAYING
}

func (c *Config) defaults() {
	if c.LobbyTTL <= 0 {
		c.LobbyTTL = 5 * time.Minute
	}
	if c.TurnTTL <= 0 {
		c.TurnTTL = 2 * time.Minute
	}
}

// Registry owns every live match and pairs waiting players by room name.
// The empty room name is the default lobby. One mutex serializes all
// operations; timer callbacks re-acquire it and verify their generation so a
// stale timer can never fire against state that has already moved on.
type Registry struct {
	mu      sync.Mutex
	cfg     Config
	ann     Announcer
	repo    *Repository // optional archive, may be nil
	matches map[string]*Match
}

func NewRegistry(cfg Config, ann Announcer) *Registry {
	cfg.defaults()
	return &Registry{
		cfg:     cfg,
		ann:     ann,
		matches: make(map[string]*Match),
	}
}

// AttachRepository wires an optional database archive for finished matches.
func (r *Registry) AttachRepository(repo *Repository) {
	if r != nil {
		r.repo = repo
	}
}

// FindOrCreate joins the waiting match for roomName, or opens a new one with
// the initiator as X. created reports which of the two happened.
func (r *Registry) FindOrCreate(initiatorID, chatID, roomName string) (snap Snapshot, created bool, err error) {
	r.mu.Lock()

	for _, m := range r.matches {
		if m.hasPlayer(initiatorID) && m.State != StateEnded {
			r.mu.Unlock()
			return Snapshot{}, false, ErrAlreadyInGame
		}
	}

	if w := r.waitingLocked(roomName); w != nil {
		if w.State != StateWaiting {
			r.mu.Unlock()
			return Snapshot{}, false, ErrAlreadyFull
		}
		w.PlayerO = initiatorID
		w.OChat = chatID
		w.State = StatePlaying
		w.LastActivity = time.Now()
		r.armTimerLocked(w, r.cfg.TurnTTL)
		snap = w.snapshot()
		r.mu.Unlock()
		obslog.L().Info("match_join",
			zap.String("match_id", snap.ID),
			zap.String("room", snap.RoomName),
			zap.String("player_o", initiatorID),
		)
		return snap, false, nil
	}

	now := time.Now()
	m := &Match{
		ID:           "ttt-" + uuid.NewString(),
		RoomName:     roomName,
		PlayerX:      initiatorID,
		XChat:        chatID,
		State:        StateWaiting,
		CreatedAt:    now,
		LastActivity: now,
		board:        board.New(),
		turn:         board.SideX,
	}
	r.matches[m.ID] = m
	r.armTimerLocked(m, r.cfg.LobbyTTL)
	snap = m.snapshot()
	r.mu.Unlock()

	obslog.L().Info("match_create",
		zap.String("match_id", snap.ID),
		zap.String("room", snap.RoomName),
		zap.String("player_x", initiatorID),
	)
	return snap, true, nil
}

// Move applies playerID's move to their active match. The inactivity timer is
// re-armed on success; a finishing move ends and releases the match.
func (r *Registry) Move(playerID string, cell int) (Snapshot, error) {
	r.mu.Lock()
	m := r.playingLocked(playerID)
	if m == nil {
		r.mu.Unlock()
		return Snapshot{}, ErrGameNotActive
	}
	side, _ := m.sideOf(playerID)
	if side != m.turn {
		r.mu.Unlock()
		return Snapshot{}, ErrNotYourTurn
	}
	if err := m.board.ApplyMove(cell, side); err != nil {
		r.mu.Unlock()
		return Snapshot{}, err
	}
	m.moves = append(m.moves, cell)
	m.LastActivity = time.Now()

	if winner, won := m.board.Winner(); won {
		snap := r.endLocked(m, OutcomeWin, m.playerOf(winner))
		r.mu.Unlock()
		r.logEnd(snap)
		return snap, nil
	}
	if m.board.IsDraw() {
		snap := r.endLocked(m, OutcomeDraw, "")
		r.mu.Unlock()
		r.logEnd(snap)
		return snap, nil
	}

	m.turn = m.turn.Other()
	r.armTimerLocked(m, r.cfg.TurnTTL)
	snap := m.snapshot()
	r.mu.Unlock()
	return snap, nil
}

// Surrender ends playerID's active match, declaring the opponent the winner.
func (r *Registry) Surrender(playerID string) (Snapshot, error) {
	r.mu.Lock()
	m := r.playingLocked(playerID)
	if m == nil {
		r.mu.Unlock()
		return Snapshot{}, ErrGameNotActive
	}
	side, _ := m.sideOf(playerID)
	snap := r.endLocked(m, OutcomeSurrender, m.playerOf(side.Other()))
	r.mu.Unlock()
	r.logEnd(snap)
	return snap, nil
}

// FindByPlayer returns the PLAYING match the player participates in, if any.
func (r *Registry) FindByPlayer(playerID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.playingLocked(playerID); m != nil {
		return m.snapshot(), true
	}
	return Snapshot{}, false
}

// Len reports how many matches are currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.matches)
}

func (r *Registry) waitingLocked(roomName string) *Match {
	for _, m := range r.matches {
		if m.State == StateWaiting && m.RoomName == roomName {
			return m
		}
	}
	return nil
}

func (r *Registry) playingLocked(playerID string) *Match {
	for _, m := range r.matches {
		if m.State == StatePlaying && m.hasPlayer(playerID) {
			return m
		}
	}
	return nil
}

// armTimerLocked replaces the match's single timer. Bumping the generation
// first invalidates any callback that already fired but has not taken the
// lock yet.
func (r *Registry) armTimerLocked(m *Match, d time.Duration) {
	m.timerGen++
	gen := m.timerGen
	if m.timer != nil {
		m.timer.Stop()
	}
	id := m.ID
	m.timer = time.AfterFunc(d, func() { r.onTimer(id, gen) })
}

func (r *Registry) onTimer(matchID string, gen uint64) {
	r.mu.Lock()
	m, ok := r.matches[matchID]
	if !ok || m.timerGen != gen {
		r.mu.Unlock()
		return
	}

	switch m.State {
	case StateWaiting:
		snap := r.endLocked(m, OutcomeExpired, "")
		r.mu.Unlock()
		obslog.L().Info("match_lobby_expired", zap.String("match_id", snap.ID), zap.String("room", snap.RoomName))
		if r.ann != nil {
			r.ann.LobbyExpired(snap)
		}
	case StatePlaying:
		loser := m.playerOf(m.turn)
		snap := r.endLocked(m, OutcomeForfeit, m.playerOf(m.turn.Other()))
		r.mu.Unlock()
		r.logEnd(snap)
		if r.ann != nil {
			r.ann.Forfeited(snap, loser)
		}
	default:
		r.mu.Unlock()
	}
}

// endLocked performs the one terminal transition: cancel the timer, record
// the outcome, and release the match from the registry.
func (r *Registry) endLocked(m *Match, outcome Outcome, winnerID string) Snapshot {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerGen++
	m.State = StateEnded
	m.Outcome = outcome
	m.WinnerID = winnerID
	m.EndedAt = time.Now()
	delete(r.matches, m.ID)

	if r.repo != nil && outcome != OutcomeExpired {
		rec := newRecord(m)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.repo.SaveResult(ctx, rec); err != nil {
				obslog.L().Error("match_archive_error", zap.String("match_id", rec.ID), zap.Error(err))
			}
		}()
	}
	return m.snapshot()
}

func (r *Registry) logEnd(snap Snapshot) {
	obslog.L().Info("match_end",
		zap.String("match_id", snap.ID),
		zap.String("outcome", string(snap.Outcome)),
		zap.String("winner", snap.Winner),
		zap.Int("moves", snap.Moves),
	)
}
