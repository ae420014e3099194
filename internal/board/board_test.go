package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMoveValidation(t *testing.T) {
	b := New()

	require.ErrorIs(t, b.ApplyMove(-1, SideX), ErrInvalidPosition)
	require.ErrorIs(t, b.ApplyMove(9, SideX), ErrInvalidPosition)

	require.NoError(t, b.ApplyMove(4, SideX))
	require.Equal(t, 1, b.Turns())

	// Occupied cell never changes the turn counter.
	require.ErrorIs(t, b.ApplyMove(4, SideO), ErrCellOccupied)
	require.ErrorIs(t, b.ApplyMove(4, SideX), ErrCellOccupied)
	require.Equal(t, 1, b.Turns())
}

func TestWinnerTopRow(t *testing.T) {
	b := New()
	// X: 0,1,2 against O: 3,4
	moves := []struct {
		cell int
		side Side
	}{
		{0, SideX}, {3, SideO}, {1, SideX}, {4, SideO}, {2, SideX},
	}
	for _, m := range moves[:4] {
		require.NoError(t, b.ApplyMove(m.cell, m.side))
		_, won := b.Winner()
		assert.False(t, won, "no winner before the pattern completes")
	}
	require.NoError(t, b.ApplyMove(2, SideX))

	side, won := b.Winner()
	require.True(t, won)
	require.Equal(t, SideX, side)
	assert.Equal(t, []int{0, 1, 2}, b.WinningCells())
	assert.False(t, b.IsDraw())
	assert.True(t, b.Over())

	// Terminal board rejects further moves.
	require.ErrorIs(t, b.ApplyMove(5, SideO), ErrGameOver)
}

func TestWinnerAllPatterns(t *testing.T) {
	patterns := [][]int{
		{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
		{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
		{0, 4, 8}, {2, 4, 6},
	}
	for _, cells := range patterns {
		b := New()
		for _, c := range cells {
			b.xMask |= 1 << uint(c)
		}
		side, won := b.Winner()
		require.True(t, won, "pattern %v", cells)
		require.Equal(t, SideX, side)
	}
}

func TestDraw(t *testing.T) {
	b := New()
	// X O X / X O O / O X X: full board, no line.
	seq := []struct {
		cell int
		side Side
	}{
		{0, SideX}, {1, SideO}, {2, SideX},
		{4, SideO}, {3, SideX}, {5, SideO},
		{7, SideX}, {6, SideO}, {8, SideX},
	}
	for _, m := range seq {
		require.NoError(t, b.ApplyMove(m.cell, m.side))
	}
	_, won := b.Winner()
	require.False(t, won)
	require.Equal(t, 9, b.Turns())
	require.True(t, b.IsDraw())
	require.True(t, b.Over())
}

func TestAvailableMovesAscending(t *testing.T) {
	b := New()
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8}, b.AvailableMoves())

	require.NoError(t, b.ApplyMove(0, SideX))
	require.NoError(t, b.ApplyMove(4, SideO))
	require.NoError(t, b.ApplyMove(8, SideX))
	require.Equal(t, []int{1, 2, 3, 5, 6, 7}, b.AvailableMoves())
}

func TestRender(t *testing.T) {
	b := New()
	require.NoError(t, b.ApplyMove(0, SideX))
	require.NoError(t, b.ApplyMove(4, SideO))

	got := b.Render("❎", "⭕")
	require.Equal(t, [9]string{"❎", "2", "3", "4", "⭕", "6", "7", "8", "9"}, got)
}

func TestMasksStayDisjoint(t *testing.T) {
	b := New()
	side := SideX
	for _, c := range []int{0, 1, 2, 3, 4, 5, 6, 7, 8} {
		if b.Over() {
			break
		}
		if err := b.ApplyMove(c, side); err != nil {
			t.Fatalf("move %d: %v", c, err)
		}
		require.Zero(t, b.xMask&b.oMask)
		side = side.Other()
	}
}
