package match

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blunderdome/chessroom/internal/obslog"
	"github.com/blunderdome/chessroom/internal/oracle"
	"github.com/blunderdome/chessroom/pkg/proto"
)

// countdown is a cancellable disconnect timer handle. Cancelling an already
// cancelled countdown is a no-op.
type countdown struct {
	stop chan struct{}
	once sync.Once
}

func (c *countdown) cancel() {
	c.once.Do(func() { close(c.stop) })
}

// startCountdownLocked begins the grace window for a side that just dropped.
// Remaining seconds are broadcast once per tick; at zero the opposing side
// wins by abandonment.
func (s *Session) startCountdownLocked(side oracle.Side) {
	if _, running := s.countdowns[side]; running {
		return
	}
	c := &countdown{stop: make(chan struct{})}
	s.countdowns[side] = c
	seconds := int(s.grace / s.tick)
	s.broadcastLocked(proto.EventCountdown, proto.Countdown{Side: string(side), SecondsRemaining: seconds})
	obslog.L().Info("disconnect_countdown_start", zap.String("session", s.id), zap.String("side", string(side)))
	go s.runCountdown(c, side, seconds)
}

func (s *Session) runCountdown(c *countdown, side oracle.Side, seconds int) {
	t := time.NewTicker(s.tick)
	defer t.Stop()
	remaining := seconds
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			remaining--
			if remaining > 0 {
				s.mu.Lock()
				select {
				case <-c.stop:
					// Cancelled while waiting for the lock; the seconds=0
					// broadcast already went out, stay silent.
					s.mu.Unlock()
					return
				default:
				}
				s.broadcastLocked(proto.EventCountdown, proto.Countdown{Side: string(side), SecondsRemaining: remaining})
				s.mu.Unlock()
				continue
			}
			s.mu.Lock()
			select {
			case <-c.stop:
				// Cancelled while waiting for the lock; no gameOver.
				s.mu.Unlock()
				return
			default:
			}
			delete(s.countdowns, side)
			s.finishLocked(string(side.Opponent()), proto.ReasonDisconnected)
			s.mu.Unlock()
			return
		}
	}
}

// cancelCountdownLocked stops a running countdown for the side and announces
// the cancellation with seconds=0. Safe to call when none is running.
func (s *Session) cancelCountdownLocked(side oracle.Side) {
	c, ok := s.countdowns[side]
	if !ok {
		return
	}
	c.cancel()
	delete(s.countdowns, side)
	s.broadcastLocked(proto.EventCountdown, proto.Countdown{Side: string(side), SecondsRemaining: 0})
}
