package bot

import (
	"context"
	"math/rand"
	"sync"
	"time"

	chess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/blunderdome/chessroom/internal/obslog"
)

const (
	infinity  = 1_000_000
	mateScore = 100_000
)

// Engine computes bot moves: remote suggestion oracle first when configured,
// fixed-depth alpha-beta minimax otherwise.
type Engine struct {
	presets *Presets
	remote  *RemoteOracle

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewEngine builds an engine. remote may be nil to disable the oracle lookup.
func NewEngine(presets *Presets, remote *RemoteOracle) *Engine {
	if presets == nil {
		presets = DefaultPresets()
	}
	return &Engine{
		presets: presets,
		remote:  remote,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// PresetFor exposes the active preset for a difficulty; the session uses it
// for the think-delay before publishing the move.
func (e *Engine) PresetFor(d Difficulty) Preset { return e.presets.For(d) }

// BestMove returns a legal move for the side to move, or false when the
// position has none. The returned move is always present in the position's
// legal move set.
func (e *Engine) BestMove(ctx context.Context, pos *chess.Position, d Difficulty) (*chess.Move, bool) {
	legal := pos.ValidMoves()
	if len(legal) == 0 {
		return nil, false
	}

	if e.remote != nil {
		if mv, ok := e.remote.Suggest(ctx, pos); ok {
			return mv, true
		}
	}

	preset := e.presets.For(d)

	// Shuffle so equally scored candidates vary between games.
	candidates := make([]chess.Move, len(legal))
	copy(candidates, legal)
	e.randMu.Lock()
	e.rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	e.randMu.Unlock()
	if preset.MaxCandidates > 0 && len(candidates) > preset.MaxCandidates {
		candidates = candidates[:preset.MaxCandidates]
	}

	white := pos.Turn() == chess.White
	var best *chess.Move
	bestScore := infinity
	if white {
		bestScore = -infinity
	}
	alpha, beta := -infinity, infinity
	for i := range candidates {
		mv := candidates[i]
		score := minimax(pos.Update(&mv), preset.Depth-1, alpha, beta)
		// Strict comparison: ties keep the earliest candidate in shuffled order.
		if white && score > bestScore {
			bestScore = score
			best = &candidates[i]
		} else if !white && score < bestScore {
			bestScore = score
			best = &candidates[i]
		}
		if white && score > alpha {
			alpha = score
		} else if !white && score < beta {
			beta = score
		}
	}

	if preset.BlunderRate > 0 && e.chance(preset.BlunderRate) {
		idx := e.intn(len(legal))
		obslog.L().Debug("bot_blunder", zap.String("difficulty", string(d)), zap.String("move", legal[idx].String()))
		return &legal[idx], true
	}
	if best == nil {
		best = &legal[0]
	}
	return best, true
}

// minimax searches to the given remaining depth with alpha-beta bounds.
// Scores are White-positive; checkmates land far outside static-eval range so
// a forced mate always beats any quiet alternative.
func minimax(pos *chess.Position, depth, alpha, beta int) int {
	switch pos.Status() {
	case chess.Checkmate:
		// The side to move has been mated.
		if pos.Turn() == chess.White {
			return -(mateScore + depth)
		}
		return mateScore + depth
	case chess.Stalemate:
		return 0
	}
	if depth <= 0 {
		return Evaluate(pos)
	}
	moves := pos.ValidMoves()
	if len(moves) == 0 {
		return Evaluate(pos)
	}

	if pos.Turn() == chess.White {
		best := -infinity
		for i := range moves {
			mv := moves[i]
			score := minimax(pos.Update(&mv), depth-1, alpha, beta)
			if score > best {
				best = score
			}
			if score > alpha {
				alpha = score
			}
			if beta <= alpha {
				break
			}
		}
		return best
	}
	best := infinity
	for i := range moves {
		mv := moves[i]
		score := minimax(pos.Update(&mv), depth-1, alpha, beta)
		if score < best {
			best = score
		}
		if score < beta {
			beta = score
		}
		if beta <= alpha {
			break
		}
	}
	return best
}

func (e *Engine) chance(p float64) bool {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.Float64() < p
}

func (e *Engine) intn(n int) int {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.Intn(n)
}
