// Package oracle wraps the chess rules engine behind the small surface the
// rest of the server needs: apply a move, ask whose turn it is, classify the
// position.
package oracle

import (
	"fmt"
	"strings"

	chess "github.com/corentings/chess/v2"
)

// Side identifies a player color.
type Side string

const (
	SideWhite Side = "white"
	SideBlack Side = "black"
)

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == SideWhite {
		return SideBlack
	}
	return SideWhite
}

// Token is the single-letter wire form clients expect in role assignments.
func (s Side) Token() string {
	if s == SideWhite {
		return "w"
	}
	return "b"
}

// ParseSide accepts both the long and the single-letter form.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "w", "white":
		return SideWhite, nil
	case "b", "black":
		return SideBlack, nil
	}
	return "", fmt.Errorf("unknown side %q", v)
}

// TerminalState classifies a finished position.
type TerminalState int

const (
	StateOngoing TerminalState = iota
	StateCheckmate
	StateStalemate
	StateDraw
)

// Status is the outcome classification of the current position. Winner is only
// meaningful for StateCheckmate.
type Status struct {
	State  TerminalState
	Winner Side
}

// Terminal reports whether the game has ended.
func (s Status) Terminal() bool { return s.State != StateOngoing }

// Move is a from/to square pair with an optional promotion piece letter.
type Move struct {
	From      string
	To        string
	Promotion string
}

// UCI renders the move in coordinate notation.
func (m Move) UCI() string {
	return strings.ToLower(m.From + m.To + m.Promotion)
}

type staticErr string

func (e staticErr) Error() string { return string(e) }

// ErrIllegalMove marks a move the rules engine rejected for the current
// position.
const ErrIllegalMove = staticErr("illegal move")

// Board is a mutable game position. It is not safe for concurrent use; the
// owning session serializes access.
type Board struct {
	game *chess.Game
}

// New returns a board at the standard initial position.
func New() *Board {
	return &Board{game: chess.NewGame()}
}

// FromFEN returns a board at the given position.
func FromFEN(fen string) (*Board, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	return &Board{game: chess.NewGame(opt)}, nil
}

// Reset restores the standard initial position.
func (b *Board) Reset() {
	b.game = chess.NewGame()
}

// Turn returns the side to move.
func (b *Board) Turn() Side {
	if b.game.Position().Turn() == chess.White {
		return SideWhite
	}
	return SideBlack
}

// FEN returns the current position in Forsyth-Edwards notation.
func (b *Board) FEN() string {
	return b.game.FEN()
}

// Position exposes the underlying position snapshot for the search.
func (b *Board) Position() *chess.Position {
	return b.game.Position()
}

// HasLegalMoves reports whether the side to move has any legal move.
func (b *Board) HasLegalMoves() bool {
	return len(b.game.Position().ValidMoves()) > 0
}

// Apply plays a move for the side to move. Clients send a default promotion
// piece with every move, so a promotion suffix on a non-promotion move is
// retried without it rather than rejected.
func (b *Board) Apply(m Move) error {
	pos := b.game.Position()
	mv, err := (chess.UCINotation{}).Decode(pos, m.UCI())
	if err != nil && m.Promotion != "" {
		mv, err = (chess.UCINotation{}).Decode(pos, strings.ToLower(m.From+m.To))
	}
	if err != nil {
		return fmt.Errorf("%w: %s", ErrIllegalMove, m.UCI())
	}
	if err := b.game.Move(mv, nil); err != nil {
		return fmt.Errorf("%w: %s", ErrIllegalMove, m.UCI())
	}
	return nil
}

// Status classifies the current position.
func (b *Board) Status() Status {
	switch b.game.Outcome() {
	case chess.WhiteWon:
		return Status{State: StateCheckmate, Winner: SideWhite}
	case chess.BlackWon:
		return Status{State: StateCheckmate, Winner: SideBlack}
	case chess.Draw:
		if b.game.Method() == chess.Stalemate {
			return Status{State: StateStalemate}
		}
		return Status{State: StateDraw}
	}
	return Status{State: StateOngoing}
}
