package board

import (
	"errors"
	"strconv"
)

var (
	ErrInvalidPosition = errors.New("invalid position (must be 0-8)")
	ErrCellOccupied    = errors.New("position already taken")
	ErrGameOver        = errors.New("game is already over")
)

// Side is one of the two marks on the board.
type Side uint8

const (
	SideX Side = iota
	SideO
)

func (s Side) String() string {
	if s == SideO {
		return "O"
	}
	return "X"
}

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == SideX {
		return SideO
	}
	return SideX
}

// winningPatterns holds the eight 9-bit masks that decide a game:
// three rows, three columns, two diagonals. Bit i is cell i.
var winningPatterns = [8]uint16{
	0b111000000, 0b000111000, 0b000000111,
	0b100100100, 0b010010010, 0b001001001,
	0b100010001, 0b001010100,
}

// Board is a 3x3 grid packed into two 9-bit masks, one per side.
// The masks are mutually exclusive: xMask&oMask == 0 always holds.
type Board struct {
	xMask uint16
	oMask uint16
	turns int
}

func New() *Board { return &Board{} }

// Turns reports how many moves have been played.
func (b *Board) Turns() int { return b.turns }

func (b *Board) occupied() uint16 { return b.xMask | b.oMask }

// ApplyMove places the given side's mark on cell 0..8.
// The board is immutable once won or full.
func (b *Board) ApplyMove(cell int, side Side) error {
	if b.Over() {
		return ErrGameOver
	}
	if cell < 0 || cell > 8 {
		return ErrInvalidPosition
	}
	bit := uint16(1) << uint(cell)
	if b.occupied()&bit != 0 {
		return ErrCellOccupied
	}
	if side == SideO {
		b.oMask |= bit
	} else {
		b.xMask |= bit
	}
	b.turns++
	return nil
}

// Winner scans the eight patterns and reports the first side whose mask
// fully contains one. X is checked before O at each pattern. The check is
// idempotent and O(1): eight mask comparisons per side.
func (b *Board) Winner() (Side, bool) {
	for _, p := range winningPatterns {
		if b.xMask&p == p {
			return SideX, true
		}
		if b.oMask&p == p {
			return SideO, true
		}
	}
	return SideX, false
}

// WinningCells returns the cell indices of the first satisfied pattern,
// or nil when nobody has won.
func (b *Board) WinningCells() []int {
	for _, p := range winningPatterns {
		if b.xMask&p == p || b.oMask&p == p {
			cells := make([]int, 0, 3)
			for i := 0; i < 9; i++ {
				if p&(1<<uint(i)) != 0 {
					cells = append(cells, i)
				}
			}
			return cells
		}
	}
	return nil
}

// IsDraw reports a full board with no winner.
func (b *Board) IsDraw() bool {
	if b.turns != 9 {
		return false
	}
	_, won := b.Winner()
	return !won
}

// Over reports whether the board reached a terminal state.
func (b *Board) Over() bool {
	if _, won := b.Winner(); won {
		return true
	}
	return b.turns == 9
}

// AvailableMoves lists the free cell indices in ascending order.
func (b *Board) AvailableMoves() []int {
	occ := b.occupied()
	moves := make([]int, 0, 9-b.turns)
	for i := 0; i < 9; i++ {
		if occ&(1<<uint(i)) == 0 {
			moves = append(moves, i)
		}
	}
	return moves
}

// Render maps every cell to the side's glyph, or the 1-based position label
// for empty cells. Display only; never used for legality checks.
func (b *Board) Render(xGlyph, oGlyph string) [9]string {
	var out [9]string
	for i := 0; i < 9; i++ {
		bit := uint16(1) << uint(i)
		switch {
		case b.xMask&bit != 0:
			out[i] = xGlyph
		case b.oMask&bit != 0:
			out[i] = oGlyph
		default:
			out[i] = strconv.Itoa(i + 1)
		}
	}
	return out
}
