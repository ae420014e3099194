package match

import (
	"errors"
	"time"

	"github.com/mellowbyte/wa-arcade-bot/internal/board"
)

var (
	ErrNotYourTurn   = errors.New("not your turn")
	ErrGameNotActive = errors.New("game is not active")
	ErrAlreadyFull   = errors.New("match already has two players")
	ErrAlreadyInGame = errors.New("player is already in a game")
)

// State is the match lifecycle. ENDED is terminal.
type State string

const (
	StateWaiting State = "WAITING"
	StatePlaying State = "PLAYING"
	StateEnded   State = "ENDED"
)

// Outcome records how a match ended.
type Outcome string

const (
	OutcomeWin       Outcome = "win"
	OutcomeDraw      Outcome = "draw"
	OutcomeSurrender Outcome = "surrender"
	OutcomeForfeit   Outcome = "forfeit"
	OutcomeExpired   Outcome = "expired"
)

// Match is one two-player game. All fields are guarded by the owning
// Registry's mutex; callers outside the registry only ever see Snapshots.
type Match struct {
	ID       string
	RoomName string

	PlayerX string
	PlayerO string
	XChat   string
	OChat   string

	State        State
	CreatedAt    time.Time
	LastActivity time.Time
	EndedAt      time.Time
	Outcome      Outcome
	WinnerID     string

	board *board.Board
	turn  board.Side
	moves []int

	timer    *time.Timer
	timerGen uint64
}

func (m *Match) hasPlayer(id string) bool {
	return id != "" && (m.PlayerX == id || m.PlayerO == id)
}

func (m *Match) sideOf(id string) (board.Side, bool) {
	switch id {
	case m.PlayerX:
		return board.SideX, true
	case m.PlayerO:
		return board.SideO, true
	}
	return board.SideX, false
}

func (m *Match) playerOf(s board.Side) string {
	if s == board.SideO {
		return m.PlayerO
	}
	return m.PlayerX
}

// Snapshot is an immutable view of a match, safe to use after the registry
// lock is released.
type Snapshot struct {
	ID       string
	RoomName string
	PlayerX  string
	PlayerO  string
	XChat    string
	OChat    string
	State    State
	Outcome  Outcome
	Winner   string
	Turn     string // player to move, empty once ended
	Cells    [9]string
	Moves    int
}

// Chats returns the distinct chats both players talk in.
func (s Snapshot) Chats() []string {
	if s.OChat == "" || s.OChat == s.XChat {
		return []string{s.XChat}
	}
	return []string{s.XChat, s.OChat}
}

func (m *Match) snapshot() Snapshot {
	s := Snapshot{
		ID:       m.ID,
		RoomName: m.RoomName,
		PlayerX:  m.PlayerX,
		PlayerO:  m.PlayerO,
		XChat:    m.XChat,
		OChat:    m.OChat,
		State:    m.State,
		Outcome:  m.Outcome,
		Winner:   m.WinnerID,
		Cells:    m.board.Render("X", "O"),
		Moves:    m.board.Turns(),
	}
	if m.State == StatePlaying {
		s.Turn = m.playerOf(m.turn)
	}
	return s
}
