package match

import (
	"context"
	"time"

	chess "github.com/corentings/chess/v2"
	"go.uber.org/zap"

	"github.com/blunderdome/chessroom/internal/obslog"
	"github.com/blunderdome/chessroom/internal/oracle"
)

// scheduleBotLocked launches a background search for the bot seat that owns
// the current turn. Any previously scheduled task is cancelled first; the
// result re-enters the session through the same move-application path as a
// human move.
func (s *Session) scheduleBotLocked() {
	if s.engine == nil || s.over {
		return
	}
	s.cancelBotLocked()
	ctx, cancel := context.WithCancel(context.Background())
	s.botCancel = cancel

	pos := s.board.Position()
	side := s.board.Turn()
	go s.runBot(ctx, pos, side)
}

func (s *Session) runBot(ctx context.Context, pos *chess.Position, side oracle.Side) {
	// The tree walk is pure CPU work; it runs here, off the event path.
	mv, ok := s.engine.BestMove(ctx, pos, s.difficulty)
	if !ok || ctx.Err() != nil {
		return
	}

	// Cosmetic thinking delay; cancellable, never a busy-wait.
	delay := s.engine.PresetFor(s.difficulty).ThinkDelay()
	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}

	uci := mv.String()
	if len(uci) < 4 {
		obslog.L().Error("bot_move_malformed", zap.String("session", s.id), zap.String("move", uci))
		return
	}
	om := oracle.Move{From: uci[:2], To: uci[2:4], Promotion: uci[4:]}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || s.over {
		return
	}
	// The game may have been reset while the search ran.
	if s.board.Turn() != side || !s.slots[side].Bot {
		return
	}
	s.applyLocked(om)
}

func (s *Session) cancelBotLocked() {
	if s.botCancel != nil {
		s.botCancel()
		s.botCancel = nil
	}
}
