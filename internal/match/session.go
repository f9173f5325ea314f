// Package match owns per-match coordination state: player slots, turn
// arbitration, disconnect grace, rematch negotiation and bot scheduling.
package match

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blunderdome/chessroom/internal/bot"
	"github.com/blunderdome/chessroom/internal/obslog"
	"github.com/blunderdome/chessroom/internal/oracle"
	"github.com/blunderdome/chessroom/pkg/proto"
)

// Emitter delivers an event to a single connection. Implementations must not
// block; sends from inside a session's critical section are expected.
type Emitter interface {
	Send(connID, event string, payload any)
}

// Mode selects who occupies the two slots.
type Mode string

const (
	ModeVersus   Mode = "versus"
	ModeBot      Mode = "bot"
	ModeSelfPlay Mode = "self"
)

// Slot binds a side to its current occupant. A slot with an empty ConnID and
// Bot unset is vacant.
type Slot struct {
	ConnID string
	Name   string
	Bot    bool
}

func (s *Slot) vacant() bool { return s.ConnID == "" && !s.Bot }

// Config carries the immutable parts of a session.
type Config struct {
	ID         string
	Mode       Mode
	Difficulty bot.Difficulty
	Engine     *bot.Engine
	Emitter    Emitter
	// Grace is the disconnect countdown window; Tick its broadcast interval.
	// Zero values mean 60s and 1s.
	Grace time.Duration
	Tick  time.Duration
}

// Session is one match's full coordination state. All state is mutated inside
// the session's own mutex; no two moves for the same match are ever applied
// concurrently.
type Session struct {
	mu sync.Mutex

	id         string
	mode       Mode
	board      *oracle.Board
	slots      map[oracle.Side]*Slot
	spectators map[string]struct{}

	rematchVotes map[string]struct{}
	countdowns   map[oracle.Side]*countdown

	engine     *bot.Engine
	difficulty bot.Difficulty
	botCancel  context.CancelFunc

	emitter Emitter
	grace   time.Duration
	tick    time.Duration
	over    bool
}

// NewSession creates a session at the initial position with vacant slots.
func NewSession(cfg Config) *Session {
	if cfg.Grace <= 0 {
		cfg.Grace = 60 * time.Second
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	return &Session{
		id:    cfg.ID,
		mode:  cfg.Mode,
		board: oracle.New(),
		slots: map[oracle.Side]*Slot{
			oracle.SideWhite: {},
			oracle.SideBlack: {},
		},
		spectators:   make(map[string]struct{}),
		rematchVotes: make(map[string]struct{}),
		countdowns:   make(map[oracle.Side]*countdown),
		engine:       cfg.Engine,
		difficulty:   cfg.Difficulty,
		emitter:      cfg.Emitter,
		grace:        cfg.Grace,
		tick:         cfg.Tick,
	}
}

func (s *Session) ID() string { return s.id }

// FEN returns the current position snapshot.
func (s *Session) FEN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.FEN()
}

// Join seats a connection: White if vacant, else Black, else spectator.
// Claiming a side cancels any disconnect countdown running for it.
func (s *Session) Join(connID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	side, seated := s.sideOfLocked(connID)
	if !seated {
		switch {
		case s.slots[oracle.SideWhite].vacant():
			side = oracle.SideWhite
		case s.slots[oracle.SideBlack].vacant():
			side = oracle.SideBlack
		default:
			s.spectators[connID] = struct{}{}
			s.emitter.Send(connID, proto.EventSpectatorRole, nil)
			s.emitter.Send(connID, proto.EventBoardState, s.board.FEN())
			return
		}
		s.slots[side] = &Slot{ConnID: connID, Name: name}
		s.cancelCountdownLocked(side)
	}

	s.emitter.Send(connID, proto.EventPlayerRole, side.Token())
	s.emitter.Send(connID, proto.EventBoardState, s.board.FEN())
	s.broadcastLocked(proto.EventPlayersUpdate, s.rosterLocked())

	if s.slots[side.Opponent()].vacant() {
		s.emitter.Send(connID, proto.EventWaiting, nil)
		return
	}
	s.broadcastLocked(proto.EventStartGame, nil)
	s.broadcastLocked(proto.EventHideLink, nil)
}

// SeatSolo configures the ungrouped bot/self-play session for its single
// owning connection. humanSide alternates across successive mode entries.
func (s *Session) SeatSolo(connID, name string, humanSide oracle.Side) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case ModeBot:
		s.slots[humanSide] = &Slot{ConnID: connID, Name: name}
		s.slots[humanSide.Opponent()] = &Slot{Bot: true, Name: "Bot"}
	case ModeSelfPlay:
		s.slots[oracle.SideWhite] = &Slot{ConnID: connID, Name: name}
		s.slots[oracle.SideBlack] = &Slot{ConnID: connID, Name: name}
	default:
		return
	}

	s.emitter.Send(connID, proto.EventPlayerRole, humanSide.Token())
	s.emitter.Send(connID, proto.EventBoardState, s.board.FEN())
	s.emitter.Send(connID, proto.EventStartGame, nil)

	if s.slots[s.board.Turn()].Bot {
		s.scheduleBotLocked()
	}
}

// SetName binds a display name to the connection's slot(s).
func (s *Session) SetName(connID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, slot := range s.slots {
		if slot.ConnID == connID && slot.Name != name {
			slot.Name = name
			changed = true
		}
	}
	if changed {
		s.broadcastLocked(proto.EventPlayersUpdate, s.rosterLocked())
	}
}

// Move applies a move from a connection. A move from a connection that does
// not own the current turn is dropped without a notice; a move the rules
// engine rejects is echoed back as InvalidMove to the sender only.
func (s *Session) Move(connID string, mv oracle.Move) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.over {
		return
	}
	turn := s.board.Turn()
	slot := s.slots[turn]
	if slot.Bot || slot.ConnID != connID {
		return
	}
	s.applyLocked(mv)
}

// applyLocked pushes a validated-or-rejected move through the single shared
// application path used by humans and the bot alike.
func (s *Session) applyLocked(mv oracle.Move) {
	mover := s.board.Turn()
	if err := s.board.Apply(mv); err != nil {
		if errors.Is(err, oracle.ErrIllegalMove) {
			if slot := s.slots[mover]; !slot.Bot && slot.ConnID != "" {
				s.emitter.Send(slot.ConnID, proto.EventInvalidMove, proto.ErrorNotice{Detail: err.Error()})
			}
			return
		}
		obslog.L().Error("move_apply_error", zap.String("session", s.id), zap.Error(err))
		return
	}

	s.broadcastLocked(proto.EventMove, proto.Move{From: mv.From, To: mv.To, Promotion: mv.Promotion})
	s.broadcastLocked(proto.EventBoardState, s.board.FEN())

	if status := s.board.Status(); status.Terminal() {
		winner, reason := outcome(status)
		s.finishLocked(winner, reason)
		return
	}
	if s.slots[s.board.Turn()].Bot {
		s.scheduleBotLocked()
	}
}

func outcome(status oracle.Status) (winner, reason string) {
	switch status.State {
	case oracle.StateCheckmate:
		return string(status.Winner), proto.ReasonCheckmate
	case oracle.StateStalemate:
		return "draw", proto.ReasonStalemate
	default:
		return "draw", proto.ReasonDraw
	}
}

// Resign forfeits the game. In self-play the resigning side must be supplied,
// since one connection controls both slots.
func (s *Session) Resign(connID, resigningAs string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.over {
		return
	}
	var side oracle.Side
	if s.mode == ModeSelfPlay {
		parsed, err := oracle.ParseSide(resigningAs)
		if err != nil {
			s.emitter.Send(connID, proto.EventError, proto.ErrorNotice{Detail: "resigningAs required in self-play"})
			return
		}
		side = parsed
	} else {
		seated, ok := s.sideOfLocked(connID)
		if !ok {
			return
		}
		side = seated
	}
	s.finishLocked(string(side.Opponent()), proto.ReasonResign)
}

// VoteRematch records a rematch vote. Only when every current slot holder has
// voted does the board reset; roles swap so colors alternate between games.
func (s *Session) VoteRematch(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	holders := s.holdersLocked()
	if _, ok := holders[connID]; !ok {
		return
	}
	if s.slots[oracle.SideWhite].vacant() || s.slots[oracle.SideBlack].vacant() {
		s.resetLocked(false)
		return
	}
	s.rematchVotes[connID] = struct{}{}
	for id := range holders {
		if _, voted := s.rematchVotes[id]; !voted {
			s.emitter.Send(connID, proto.EventWaiting, nil)
			return
		}
	}
	s.resetLocked(true)
}

// Reconnect reclaims a side for a connection, cancelling its countdown. When
// the side is held by another live connection, the caller becomes a spectator
// instead of receiving an error.
func (s *Session) Reconnect(connID string, side oracle.Side) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := s.slots[side]
	if slot.Bot || (slot.ConnID != "" && slot.ConnID != connID) {
		s.spectators[connID] = struct{}{}
		s.emitter.Send(connID, proto.EventSpectatorRole, nil)
		s.emitter.Send(connID, proto.EventBoardState, s.board.FEN())
		return
	}
	name := slot.Name
	s.slots[side] = &Slot{ConnID: connID, Name: name}
	delete(s.spectators, connID)
	s.cancelCountdownLocked(side)

	s.emitter.Send(connID, proto.EventPlayerRole, side.Token())
	s.emitter.Send(connID, proto.EventBoardState, s.board.FEN())
	s.broadcastLocked(proto.EventPlayersUpdate, s.rosterLocked())
}

// Disconnect releases the connection's seat. While the opponent remains
// connected, a grace countdown runs; at zero the opponent wins.
func (s *Session) Disconnect(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.spectators, connID)
	delete(s.rematchVotes, connID)
	for side, slot := range s.slots {
		if slot.ConnID != connID {
			continue
		}
		slot.ConnID = ""
		opp := s.slots[side.Opponent()]
		if !s.over && opp.ConnID != "" && opp.ConnID != connID {
			s.startCountdownLocked(side)
		}
	}
}

// Empty reports whether nothing holds the session anymore; the registry uses
// it to garbage-collect.
func (s *Session) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[oracle.SideWhite].ConnID == "" &&
		s.slots[oracle.SideBlack].ConnID == "" &&
		len(s.spectators) == 0
}

// Close cancels all timers and any in-flight bot task. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for side := range s.countdowns {
		s.cancelCountdownLocked(side)
	}
	s.cancelBotLocked()
}

func (s *Session) sideOfLocked(connID string) (oracle.Side, bool) {
	for _, side := range [2]oracle.Side{oracle.SideWhite, oracle.SideBlack} {
		if slot := s.slots[side]; !slot.Bot && slot.ConnID == connID && connID != "" {
			return side, true
		}
	}
	return "", false
}

// holdersLocked returns the distinct live connections currently holding slots.
func (s *Session) holdersLocked() map[string]struct{} {
	holders := make(map[string]struct{}, 2)
	for _, slot := range s.slots {
		if !slot.Bot && slot.ConnID != "" {
			holders[slot.ConnID] = struct{}{}
		}
	}
	return holders
}

func (s *Session) rosterLocked() proto.PlayersUpdate {
	return proto.PlayersUpdate{
		White: s.slots[oracle.SideWhite].Name,
		Black: s.slots[oracle.SideBlack].Name,
	}
}

func (s *Session) finishLocked(winner, reason string) {
	s.over = true
	for side := range s.countdowns {
		s.cancelCountdownLocked(side)
	}
	s.cancelBotLocked()
	s.broadcastLocked(proto.EventGameOver, proto.GameOver{Winner: winner, Reason: reason})
	obslog.L().Info("game_over",
		zap.String("session", s.id),
		zap.String("winner", winner),
		zap.String("reason", reason),
	)
}

// resetLocked starts a fresh game; swap exchanges the White/Black slot
// holders so a rematch alternates colors.
func (s *Session) resetLocked(swap bool) {
	s.cancelBotLocked()
	for side := range s.countdowns {
		s.cancelCountdownLocked(side)
	}
	if swap {
		s.slots[oracle.SideWhite], s.slots[oracle.SideBlack] = s.slots[oracle.SideBlack], s.slots[oracle.SideWhite]
	}
	s.board.Reset()
	s.rematchVotes = make(map[string]struct{})
	s.over = false

	for _, side := range [2]oracle.Side{oracle.SideWhite, oracle.SideBlack} {
		if slot := s.slots[side]; !slot.Bot && slot.ConnID != "" {
			s.emitter.Send(slot.ConnID, proto.EventPlayerRole, side.Token())
		}
	}
	s.broadcastLocked(proto.EventBoardState, s.board.FEN())
	s.broadcastLocked(proto.EventPlayersUpdate, s.rosterLocked())
	s.broadcastLocked(proto.EventStartGame, nil)

	if s.slots[s.board.Turn()].Bot {
		s.scheduleBotLocked()
	}
}

// recipientsLocked snapshots every connection associated with the session.
// Solo sessions only ever contain their owning connection, so bot and
// self-play traffic never reaches anyone else.
func (s *Session) recipientsLocked() []string {
	seen := make(map[string]struct{}, len(s.spectators)+2)
	for _, slot := range s.slots {
		if !slot.Bot && slot.ConnID != "" {
			seen[slot.ConnID] = struct{}{}
		}
	}
	for id := range s.spectators {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

func (s *Session) broadcastLocked(event string, payload any) {
	for _, id := range s.recipientsLocked() {
		s.emitter.Send(id, event, payload)
	}
}
