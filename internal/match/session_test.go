package match

import (
	"sync"
	"testing"
	"time"

	"github.com/blunderdome/chessroom/internal/bot"
	"github.com/blunderdome/chessroom/internal/oracle"
	"github.com/blunderdome/chessroom/pkg/proto"
)

type emitted struct {
	conn    string
	event   string
	payload any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (f *fakeEmitter) Send(connID, event string, payload any) {
	f.mu.Lock()
	f.events = append(f.events, emitted{conn: connID, event: event, payload: payload})
	f.mu.Unlock()
}

func (f *fakeEmitter) all() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]emitted, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeEmitter) count(conn, event string) int {
	n := 0
	for _, e := range f.all() {
		if e.conn == conn && e.event == event {
			n++
		}
	}
	return n
}

func (f *fakeEmitter) last(conn, event string) (emitted, bool) {
	var hit emitted
	found := false
	for _, e := range f.all() {
		if e.conn == conn && e.event == event {
			hit = e
			found = true
		}
	}
	return hit, found
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}

func newVersusSession(em Emitter) *Session {
	return NewSession(Config{ID: "m1", Mode: ModeVersus, Emitter: em})
}

func TestJoinAssignsRolesInOrder(t *testing.T) {
	em := &fakeEmitter{}
	s := newVersusSession(em)

	s.Join("c1", "alice")
	role, ok := em.last("c1", proto.EventPlayerRole)
	if !ok || role.payload != "w" {
		t.Fatalf("first joiner should get white, got %v", role.payload)
	}
	if _, ok := em.last("c1", proto.EventWaiting); !ok {
		t.Fatalf("solo joiner should be told to wait")
	}

	s.Join("c2", "bob")
	role, ok = em.last("c2", proto.EventPlayerRole)
	if !ok || role.payload != "b" {
		t.Fatalf("second joiner should get black, got %v", role.payload)
	}
	if em.count("c1", proto.EventStartGame) == 0 || em.count("c2", proto.EventStartGame) == 0 {
		t.Fatalf("both players should see startGame once seated")
	}
	if em.count("c1", proto.EventHideLink) == 0 {
		t.Fatalf("hideLink should broadcast when the match fills")
	}

	s.Join("c3", "carol")
	if _, ok := em.last("c3", proto.EventSpectatorRole); !ok {
		t.Fatalf("third joiner should become a spectator")
	}
	if _, ok := em.last("c3", proto.EventBoardState); !ok {
		t.Fatalf("spectator should receive the board snapshot")
	}
}

func TestMoveTurnEnforcement(t *testing.T) {
	em := &fakeEmitter{}
	s := newVersusSession(em)
	s.Join("c1", "alice")
	s.Join("c2", "bob")
	before := s.FEN()

	// Black tries to move first: dropped silently, no state change.
	s.Move("c2", oracle.Move{From: "e7", To: "e5"})
	if s.FEN() != before {
		t.Fatalf("out-of-turn move mutated the board")
	}
	if em.count("c2", proto.EventInvalidMove) != 0 {
		t.Fatalf("out-of-turn move should not produce InvalidMove")
	}

	s.Move("c1", oracle.Move{From: "e2", To: "e4"})
	if s.FEN() == before {
		t.Fatalf("legal white move was not applied")
	}
	if em.count("c1", proto.EventMove) == 0 || em.count("c2", proto.EventMove) == 0 {
		t.Fatalf("applied move should be echoed to both players")
	}
	if em.count("c3", proto.EventMove) != 0 {
		t.Fatalf("move leaked to a connection outside the match")
	}
}

func TestMoveIllegalEchoesToMoverOnly(t *testing.T) {
	em := &fakeEmitter{}
	s := newVersusSession(em)
	s.Join("c1", "alice")
	s.Join("c2", "bob")
	before := s.FEN()

	s.Move("c1", oracle.Move{From: "e2", To: "e5"})
	if s.FEN() != before {
		t.Fatalf("illegal move mutated the board")
	}
	if em.count("c1", proto.EventInvalidMove) != 1 {
		t.Fatalf("mover should receive exactly one InvalidMove")
	}
	if em.count("c2", proto.EventInvalidMove) != 0 {
		t.Fatalf("opponent should not see the InvalidMove echo")
	}
}

func TestCheckmateEndsGame(t *testing.T) {
	em := &fakeEmitter{}
	s := newVersusSession(em)
	s.Join("c1", "alice")
	s.Join("c2", "bob")

	// Fool's mate: black delivers checkmate on move two.
	s.Move("c1", oracle.Move{From: "f2", To: "f3"})
	s.Move("c2", oracle.Move{From: "e7", To: "e5"})
	s.Move("c1", oracle.Move{From: "g2", To: "g4"})
	s.Move("c2", oracle.Move{From: "d8", To: "h4"})

	over, ok := em.last("c1", proto.EventGameOver)
	if !ok {
		t.Fatalf("expected gameOver after checkmate")
	}
	go2 := over.payload.(proto.GameOver)
	if go2.Winner != "black" || go2.Reason != proto.ReasonCheckmate {
		t.Fatalf("unexpected gameOver payload: %+v", go2)
	}

	// Further moves are ignored once the game is over.
	fen := s.FEN()
	s.Move("c1", oracle.Move{From: "e2", To: "e4"})
	if s.FEN() != fen {
		t.Fatalf("move applied after game over")
	}
}

func TestStalemateEndsInDraw(t *testing.T) {
	em := &fakeEmitter{}
	s := newVersusSession(em)
	s.Join("c1", "alice")
	s.Join("c2", "bob")

	b, err := oracle.FromFEN("7k/8/6K1/5Q2/8/8/8/8 w - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	s.mu.Lock()
	s.board = b
	s.mu.Unlock()

	s.Move("c1", oracle.Move{From: "f5", To: "f7"})
	over, ok := em.last("c2", proto.EventGameOver)
	if !ok {
		t.Fatalf("expected gameOver after stalemate")
	}
	go2 := over.payload.(proto.GameOver)
	if go2.Winner != "draw" || go2.Reason != proto.ReasonStalemate {
		t.Fatalf("unexpected gameOver payload: %+v", go2)
	}
}

func TestResignAwardsOpponent(t *testing.T) {
	em := &fakeEmitter{}
	s := newVersusSession(em)
	s.Join("c1", "alice")
	s.Join("c2", "bob")

	s.Resign("c2", "")
	over, ok := em.last("c1", proto.EventGameOver)
	if !ok {
		t.Fatalf("expected gameOver after resignation")
	}
	go2 := over.payload.(proto.GameOver)
	if go2.Winner != "white" || go2.Reason != proto.ReasonResign {
		t.Fatalf("unexpected gameOver payload: %+v", go2)
	}
}

func TestResignSelfPlayNeedsSide(t *testing.T) {
	em := &fakeEmitter{}
	s := NewSession(Config{ID: "solo", Mode: ModeSelfPlay, Emitter: em})
	s.SeatSolo("c1", "alice", oracle.SideWhite)

	s.Resign("c1", "")
	if em.count("c1", proto.EventGameOver) != 0 {
		t.Fatalf("ambiguous self-play resignation should not end the game")
	}
	if em.count("c1", proto.EventError) != 1 {
		t.Fatalf("ambiguous self-play resignation should produce an error notice")
	}

	s.Resign("c1", "black")
	over, ok := em.last("c1", proto.EventGameOver)
	if !ok {
		t.Fatalf("expected gameOver after explicit resignation")
	}
	go2 := over.payload.(proto.GameOver)
	if go2.Winner != "white" {
		t.Fatalf("black resigned, white should win: %+v", go2)
	}
}

func TestSelfPlayOneConnectionMovesBothSides(t *testing.T) {
	em := &fakeEmitter{}
	s := NewSession(Config{ID: "solo", Mode: ModeSelfPlay, Emitter: em})
	s.SeatSolo("c1", "alice", oracle.SideWhite)
	before := s.FEN()

	s.Move("c1", oracle.Move{From: "e2", To: "e4"})
	s.Move("c1", oracle.Move{From: "e7", To: "e5"})
	if s.FEN() == before {
		t.Fatalf("self-play moves not applied")
	}
	if em.count("c1", proto.EventMove) != 2 {
		t.Fatalf("expected two move echoes, got %d", em.count("c1", proto.EventMove))
	}
}

func TestRematchRequiresAllHolders(t *testing.T) {
	em := &fakeEmitter{}
	s := newVersusSession(em)
	s.Join("c1", "alice")
	s.Join("c2", "bob")
	s.Move("c1", oracle.Move{From: "e2", To: "e4"})
	moved := s.FEN()

	s.VoteRematch("c1")
	if s.FEN() != moved {
		t.Fatalf("single vote must not reset the board")
	}
	if em.count("c1", proto.EventWaiting) < 2 {
		// One from the initial solo join, one from the pending vote.
		t.Fatalf("lone voter should be told the vote is pending")
	}

	// A non-holder's vote is dropped.
	s.VoteRematch("stranger")
	if s.FEN() != moved {
		t.Fatalf("stranger vote must not reset the board")
	}

	s.VoteRematch("c2")
	fresh := NewSession(Config{ID: "x", Mode: ModeVersus, Emitter: &fakeEmitter{}}).FEN()
	if s.FEN() != fresh {
		t.Fatalf("both votes should reset the board")
	}

	// Colors swap: the original white holder is now black.
	role, ok := em.last("c1", proto.EventPlayerRole)
	if !ok || role.payload != "b" {
		t.Fatalf("rematch should hand c1 black, got %v", role.payload)
	}
	role, ok = em.last("c2", proto.EventPlayerRole)
	if !ok || role.payload != "w" {
		t.Fatalf("rematch should hand c2 white, got %v", role.payload)
	}
}

func TestRematchVacantSlotResetsOnlyForHolders(t *testing.T) {
	em := &fakeEmitter{}
	s := newVersusSession(em)
	s.Join("c1", "alice")
	s.Move("c1", oracle.Move{From: "e2", To: "e4"})
	moved := s.FEN()

	// Black is vacant; a connection holding no slot must not be able to wipe
	// the seated player's game.
	s.VoteRematch("ghost")
	if s.FEN() != moved {
		t.Fatalf("non-holder vote reset a lone player's board")
	}

	// The seated player's own vote resets immediately with a vacant opponent.
	s.VoteRematch("c1")
	if s.FEN() == moved {
		t.Fatalf("holder vote with a vacant slot should reset immediately")
	}
}

func TestDisconnectCountdownExpires(t *testing.T) {
	em := &fakeEmitter{}
	s := NewSession(Config{
		ID:      "m1",
		Mode:    ModeVersus,
		Emitter: em,
		Grace:   50 * time.Millisecond,
		Tick:    10 * time.Millisecond,
	})
	s.Join("c1", "alice")
	s.Join("c2", "bob")

	s.Disconnect("c1")
	if cd, ok := em.last("c2", proto.EventCountdown); !ok {
		t.Fatalf("opponent should see the countdown start")
	} else if p := cd.payload.(proto.Countdown); p.Side != "white" || p.SecondsRemaining != 5 {
		t.Fatalf("unexpected countdown start payload: %+v", p)
	}

	waitFor(t, time.Second, func() bool {
		return em.count("c2", proto.EventGameOver) > 0
	})
	over, _ := em.last("c2", proto.EventGameOver)
	go2 := over.payload.(proto.GameOver)
	if go2.Winner != "black" || go2.Reason != proto.ReasonDisconnected {
		t.Fatalf("unexpected abandonment payload: %+v", go2)
	}
	// The full sequence counted down through the window.
	if em.count("c2", proto.EventCountdown) < 5 {
		t.Fatalf("expected tick-by-tick countdown broadcasts, got %d", em.count("c2", proto.EventCountdown))
	}
}

func TestReconnectCancelsCountdown(t *testing.T) {
	em := &fakeEmitter{}
	s := NewSession(Config{
		ID:      "m1",
		Mode:    ModeVersus,
		Emitter: em,
		Grace:   500 * time.Millisecond,
		Tick:    10 * time.Millisecond,
	})
	s.Join("c1", "alice")
	s.Join("c2", "bob")

	s.Disconnect("c1")
	waitFor(t, time.Second, func() bool {
		return em.count("c2", proto.EventCountdown) >= 2
	})

	s.Reconnect("c9", oracle.SideWhite)
	role, ok := em.last("c9", proto.EventPlayerRole)
	if !ok || role.payload != "w" {
		t.Fatalf("reconnecting client should reclaim white, got %v", role.payload)
	}
	cancel, ok := em.last("c2", proto.EventCountdown)
	if !ok || cancel.payload.(proto.Countdown).SecondsRemaining != 0 {
		t.Fatalf("countdown cancellation should broadcast seconds=0")
	}

	// Wait past the original grace window: no abandonment may fire.
	time.Sleep(600 * time.Millisecond)
	if em.count("c2", proto.EventGameOver) != 0 {
		t.Fatalf("cancelled countdown still ended the game")
	}
}

func TestCountdownCancelledUnderLockStaysSilent(t *testing.T) {
	// A tick can fire while another event holds the session lock. If that
	// event cancels the countdown, the queued tick must not broadcast a stale
	// non-zero value after the seconds=0 cancellation.
	em := &fakeEmitter{}
	s := NewSession(Config{
		ID:      "m1",
		Mode:    ModeVersus,
		Emitter: em,
		Grace:   10 * time.Second,
		Tick:    10 * time.Millisecond,
	})
	s.Join("c1", "alice")
	s.Join("c2", "bob")
	s.Disconnect("c1")

	// Hold the lock across a tick boundary, then cancel before releasing.
	s.mu.Lock()
	time.Sleep(30 * time.Millisecond)
	s.cancelCountdownLocked(oracle.SideWhite)
	s.mu.Unlock()

	// Give the blocked tick goroutine time to acquire the lock and bail out.
	time.Sleep(50 * time.Millisecond)

	events := em.all()
	zeroSeen := false
	for _, e := range events {
		if e.conn != "c2" || e.event != proto.EventCountdown {
			continue
		}
		p := e.payload.(proto.Countdown)
		if p.SecondsRemaining == 0 {
			zeroSeen = true
			continue
		}
		if zeroSeen {
			t.Fatalf("stale countdown broadcast after cancellation: %+v", p)
		}
	}
	if !zeroSeen {
		t.Fatalf("cancellation should broadcast seconds=0")
	}
}

func TestReconnectHeldSideBecomesSpectator(t *testing.T) {
	em := &fakeEmitter{}
	s := newVersusSession(em)
	s.Join("c1", "alice")
	s.Join("c2", "bob")

	s.Reconnect("c3", oracle.SideWhite)
	if _, ok := em.last("c3", proto.EventSpectatorRole); !ok {
		t.Fatalf("claiming a held side should demote to spectator")
	}
	if side, seated := s.sideOfLocked("c1"); !seated || side != oracle.SideWhite {
		t.Fatalf("original holder lost the seat")
	}
}

func TestDisconnectWithoutOpponentStartsNoCountdown(t *testing.T) {
	em := &fakeEmitter{}
	s := newVersusSession(em)
	s.Join("c1", "alice")

	s.Disconnect("c1")
	if em.count("c1", proto.EventCountdown) != 0 {
		t.Fatalf("no countdown should run without a connected opponent")
	}
	if !s.Empty() {
		t.Fatalf("session should be empty after its only player leaves")
	}
}

func TestBotRepliesToHumanMove(t *testing.T) {
	em := &fakeEmitter{}
	engine := bot.NewEngine(bot.DefaultPresets(), nil)
	s := NewSession(Config{
		ID:         "solo",
		Mode:       ModeBot,
		Difficulty: bot.ParseDifficulty("instant"),
		Engine:     engine,
		Emitter:    em,
	})
	s.SeatSolo("c1", "alice", oracle.SideWhite)
	t.Cleanup(s.Close)

	s.Move("c1", oracle.Move{From: "e2", To: "e4"})
	waitFor(t, 3*time.Second, func() bool {
		return em.count("c1", proto.EventMove) >= 2
	})

	// After the bot reply it is white's turn again.
	s.mu.Lock()
	turn := s.board.Turn()
	s.mu.Unlock()
	if turn != oracle.SideWhite {
		t.Fatalf("expected white to move after the bot reply, got %s", turn)
	}
}

func TestBotMovesFirstWhenHumanIsBlack(t *testing.T) {
	em := &fakeEmitter{}
	engine := bot.NewEngine(bot.DefaultPresets(), nil)
	s := NewSession(Config{
		ID:         "solo",
		Mode:       ModeBot,
		Difficulty: bot.ParseDifficulty("instant"),
		Engine:     engine,
		Emitter:    em,
	})
	s.SeatSolo("c1", "alice", oracle.SideBlack)
	t.Cleanup(s.Close)

	waitFor(t, 3*time.Second, func() bool {
		return em.count("c1", proto.EventMove) >= 1
	})
	s.mu.Lock()
	turn := s.board.Turn()
	s.mu.Unlock()
	if turn != oracle.SideBlack {
		t.Fatalf("expected black to move after the bot opening, got %s", turn)
	}
}

func TestHumanCannotMoveForBot(t *testing.T) {
	// No engine: the bot seat never plays, so the position stays put and the
	// drop is observable without racing a background search.
	em := &fakeEmitter{}
	s := NewSession(Config{
		ID:      "solo",
		Mode:    ModeBot,
		Emitter: em,
	})
	s.SeatSolo("c1", "alice", oracle.SideBlack)

	before := s.FEN()
	s.Move("c1", oracle.Move{From: "e2", To: "e4"})
	if s.FEN() != before {
		t.Fatalf("human moved on the bot's turn")
	}
	if em.count("c1", proto.EventMove) != 0 {
		t.Fatalf("dropped move should not be echoed")
	}
}
