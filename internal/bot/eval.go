package bot

import (
	chess "github.com/corentings/chess/v2"
)

// Material values in centipawns.
const (
	PawnValue   = 100
	KnightValue = 320
	BishopValue = 330
	RookValue   = 500
	QueenValue  = 900
	KingValue   = 20000
)

// Piece-square tables from White's point of view, row 0 = rank 8.
// Mirrored vertically for Black.

var pawnTable = [64]int{
	0, 0, 0, 0, 0, 0, 0, 0,
	50, 50, 50, 50, 50, 50, 50, 50,
	10, 10, 20, 30, 30, 20, 10, 10,
	5, 5, 10, 25, 25, 10, 5, 5,
	0, 0, 0, 20, 20, 0, 0, 0,
	5, -5, -10, 0, 0, -10, -5, 5,
	5, 10, 10, -20, -20, 10, 10, 5,
	0, 0, 0, 0, 0, 0, 0, 0,
}

var knightTable = [64]int{
	-50, -40, -30, -30, -30, -30, -40, -50,
	-40, -20, 0, 0, 0, 0, -20, -40,
	-30, 0, 10, 15, 15, 10, 0, -30,
	-30, 5, 15, 20, 20, 15, 5, -30,
	-30, 0, 15, 20, 20, 15, 0, -30,
	-30, 5, 10, 15, 15, 10, 5, -30,
	-40, -20, 0, 5, 5, 0, -20, -40,
	-50, -40, -30, -30, -30, -30, -40, -50,
}

func materialValue(t chess.PieceType) int {
	switch t {
	case chess.Pawn:
		return PawnValue
	case chess.Knight:
		return KnightValue
	case chess.Bishop:
		return BishopValue
	case chess.Rook:
		return RookValue
	case chess.Queen:
		return QueenValue
	case chess.King:
		return KingValue
	}
	return 0
}

func positionalValue(t chess.PieceType, sq chess.Square, color chess.Color) int {
	var table *[64]int
	switch t {
	case chess.Pawn:
		table = &pawnTable
	case chess.Knight:
		table = &knightTable
	default:
		return 0
	}
	file := int(sq.File())
	rank := int(sq.Rank())
	if color == chess.White {
		return table[(7-rank)*8+file]
	}
	return table[rank*8+file]
}

// Evaluate statically scores a position in centipawns, positive for White.
// Pure function: identical positions always score identically.
func Evaluate(pos *chess.Position) int {
	score := 0
	for sq, piece := range pos.Board().SquareMap() {
		v := materialValue(piece.Type()) + positionalValue(piece.Type(), sq, piece.Color())
		if piece.Color() == chess.White {
			score += v
		} else {
			score -= v
		}
	}
	return score
}
