package tictactoe

import (
	"errors"
	"fmt"
)

const (
	StatusFinished = "finished"
	StatusOngoing  = "ongoing"

	PlayerX   = "X"
	PlayerO   = "O"
	PlayerTie = "-"

	EmptyCell = ""
)

var (
	ErrInvalidCell  = errors.New("invalid cell index")
	ErrCellOccupied = errors.New("cell is already occupied")
	ErrUnknownMark  = errors.New("unknown mark")
	ErrGameFinished = errors.New("game is already finished")

	WinCombos = [][3]int{
		{0, 1, 2},
		{3, 4, 5},
		{6, 7, 8},
		{0, 3, 6},
		{1, 4, 7},
		{2, 5, 8},
		{0, 4, 8},
		{2, 4, 6},
	}
)

// Game is a value type: every turn returns a new Game and leaves the receiver as it was.
type Game struct {
	Board  [9]string
	Winner string
	Status string
	Moves  int
}

func NewGame() Game {
	return Game{
		Board:  [9]string{EmptyCell, EmptyCell, EmptyCell, EmptyCell, EmptyCell, EmptyCell, EmptyCell, EmptyCell, EmptyCell},
		Status: StatusOngoing,
	}
}

func (that Game) DetermineGameResult() string {
	for _, combo := range WinCombos {
		a, b, c := that.Board[combo[0]], that.Board[combo[1]], that.Board[combo[2]]
		if a != EmptyCell && a == b && b == c {
			return a
		}
	}

	// the game will continue until all the squares are full
	for _, cell := range that.Board {
		if cell == EmptyCell {
			return ""
		}
	}

	return PlayerTie
}

func (that Game) updateGameState() Game {
	switch winner := that.DetermineGameResult(); winner {
	case PlayerX, PlayerO, PlayerTie:
		that.Winner = winner
		that.Status = StatusFinished
	default:
		that.Status = StatusOngoing
	}

	return that
}

// MakeTurn places mark on cell and returns the resulting game.
func (that Game) MakeTurn(mark string, cell int) (Game, error) {
	if that.IsFinished() {
		return that, ErrGameFinished
	}

	if mark != PlayerX && mark != PlayerO {
		return that, fmt.Errorf("%w: %q", ErrUnknownMark, mark)
	}

	if cell < 0 || cell >= len(that.Board) {
		return that, fmt.Errorf("%w: cell %d", ErrInvalidCell, cell)
	}

	if that.Board[cell] != EmptyCell {
		return that, ErrCellOccupied
	}

	next := that
	next.Board[cell] = mark
	next.Moves++

	return next.updateGameState(), nil
}

func (that Game) IsFinished() bool {
	return that.Status == StatusFinished
}

// FreeCells lists the cells still open for play.
func (that Game) FreeCells() []int {
	cells := make([]int, 0, len(that.Board))
	for i, cell := range that.Board {
		if cell == EmptyCell {
			cells = append(cells, i)
		}
	}

	return cells
}
