// Package hub routes inbound client events to the owning match session and
// fans outbound events back to connections.
package hub

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blunderdome/chessroom/internal/bot"
	"github.com/blunderdome/chessroom/internal/match"
	"github.com/blunderdome/chessroom/internal/obslog"
	"github.com/blunderdome/chessroom/internal/oracle"
	"github.com/blunderdome/chessroom/pkg/proto"
)

// Sender is a connection's non-blocking outbound channel.
type Sender interface {
	Send(env proto.Envelope)
}

// Options tune session construction.
type Options struct {
	Engine            *bot.Engine
	DefaultDifficulty bot.Difficulty
	Grace             time.Duration
	Tick              time.Duration
}

// Hub is the session registry and dispatcher. Its lock guards only the
// registry maps; it is never held while a session method runs, so a slow
// session cannot stall routing for the others.
type Hub struct {
	mu sync.Mutex

	opts Options

	conns map[string]Sender
	names map[string]string

	rooms      map[string]*match.Session
	roomByConn map[string]string

	// One solo (bot/self-play) session per connection; never shared.
	solo     map[string]*match.Session
	soloFlip map[string]bool
}

func New(opts Options) *Hub {
	if opts.DefaultDifficulty == "" {
		opts.DefaultDifficulty = bot.Medium
	}
	return &Hub{
		opts:       opts,
		conns:      make(map[string]Sender),
		names:      make(map[string]string),
		rooms:      make(map[string]*match.Session),
		roomByConn: make(map[string]string),
		solo:       make(map[string]*match.Session),
		soloFlip:   make(map[string]bool),
	}
}

// Send implements match.Emitter.
func (h *Hub) Send(connID, event string, payload any) {
	h.mu.Lock()
	sender, ok := h.conns[connID]
	h.mu.Unlock()
	if !ok {
		return
	}
	env := proto.Envelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			obslog.L().Error("payload_marshal_error", zap.String("event", event), zap.Error(err))
			return
		}
		env.Data = raw
	}
	sender.Send(env)
}

// Connect registers a new connection.
func (h *Hub) Connect(connID string, sender Sender) {
	h.mu.Lock()
	h.conns[connID] = sender
	h.mu.Unlock()
	obslog.L().Info("client_connect", zap.String("conn", connID))
}

// Disconnect tears down everything the connection holds.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	delete(h.conns, connID)
	delete(h.names, connID)
	delete(h.soloFlip, connID)
	roomID := h.roomByConn[connID]
	delete(h.roomByConn, connID)
	room := h.rooms[roomID]
	solo := h.solo[connID]
	delete(h.solo, connID)
	h.mu.Unlock()

	if solo != nil {
		solo.Close()
	}
	if room != nil {
		room.Disconnect(connID)
		h.collect(roomID, room)
	}
	obslog.L().Info("client_disconnect", zap.String("conn", connID))
}

// Event dispatches one inbound client event.
func (h *Hub) Event(connID, event string, data json.RawMessage) {
	switch event {
	case proto.EventJoinRoom:
		var payload proto.JoinRoom
		if err := json.Unmarshal(data, &payload); err != nil || strings.TrimSpace(payload.MatchID) == "" {
			h.notifyError(connID, "joinRoom requires a matchId")
			return
		}
		h.joinRoom(connID, strings.TrimSpace(payload.MatchID))

	case proto.EventSetUsername:
		name, err := decodeString(data)
		if err != nil || strings.TrimSpace(name) == "" {
			h.notifyError(connID, "empty username")
			return
		}
		name = strings.TrimSpace(name)
		h.mu.Lock()
		h.names[connID] = name
		h.mu.Unlock()
		if sess := h.sessionFor(connID); sess != nil {
			sess.SetName(connID, name)
		}

	case proto.EventSetMode:
		var payload proto.SetMode
		if err := json.Unmarshal(data, &payload); err != nil {
			// Tolerate a bare mode string.
			if mode, serr := decodeString(data); serr == nil {
				payload = proto.SetMode{Mode: mode}
			} else {
				h.notifyError(connID, "malformed setMode payload")
				return
			}
		}
		h.setMode(connID, payload)

	case proto.EventMove:
		var payload proto.Move
		if err := json.Unmarshal(data, &payload); err != nil {
			h.notifyError(connID, "malformed move payload")
			return
		}
		sess := h.sessionFor(connID)
		if sess == nil {
			h.notifyError(connID, "no active game")
			return
		}
		sess.Move(connID, oracle.Move{From: payload.From, To: payload.To, Promotion: payload.Promotion})

	case proto.EventResign:
		var payload proto.Resign
		if len(data) > 0 {
			if err := json.Unmarshal(data, &payload); err != nil {
				h.notifyError(connID, "malformed resign payload")
				return
			}
		}
		sess := h.sessionFor(connID)
		if sess == nil {
			h.notifyError(connID, "no active game")
			return
		}
		sess.Resign(connID, payload.ResigningAs)

	case proto.EventResetGame:
		sess := h.sessionFor(connID)
		if sess == nil {
			h.notifyError(connID, "no active game")
			return
		}
		sess.VoteRematch(connID)

	case proto.EventReconnect:
		raw, err := decodeString(data)
		if err != nil {
			var payload proto.Reconnect
			if jerr := json.Unmarshal(data, &payload); jerr != nil {
				h.notifyError(connID, "malformed reconnectPlayer payload")
				return
			}
			raw = payload.Side
		}
		side, err := oracle.ParseSide(raw)
		if err != nil {
			h.notifyError(connID, "unknown side")
			return
		}
		sess := h.sessionFor(connID)
		if sess == nil {
			h.notifyError(connID, "no active game")
			return
		}
		sess.Reconnect(connID, side)

	default:
		obslog.L().Debug("unknown_event", zap.String("conn", connID), zap.String("event", event))
		h.notifyError(connID, "unknown event: "+event)
	}
}

// joinRoom attaches the connection to a room session, creating it lazily.
// An explicitly joined room always takes precedence over the solo session.
func (h *Hub) joinRoom(connID, matchID string) {
	h.mu.Lock()
	if solo := h.solo[connID]; solo != nil {
		delete(h.solo, connID)
		go solo.Close()
	}
	prevID, hadPrev := h.roomByConn[connID]
	var prev *match.Session
	if hadPrev && prevID != matchID {
		prev = h.rooms[prevID]
	}
	sess, ok := h.rooms[matchID]
	if !ok {
		sess = match.NewSession(match.Config{
			ID:      matchID,
			Mode:    match.ModeVersus,
			Emitter: h,
			Grace:   h.opts.Grace,
			Tick:    h.opts.Tick,
		})
		h.rooms[matchID] = sess
		obslog.L().Info("room_create", zap.String("match", matchID))
	}
	h.roomByConn[connID] = matchID
	name := h.names[connID]
	h.mu.Unlock()

	if prev != nil {
		prev.Disconnect(connID)
		h.collect(prevID, prev)
	}
	sess.Join(connID, name)
}

// setMode switches the connection's ungrouped session. Each entry alternates
// the color the human receives, so repeat single-player games do not always
// start as White.
func (h *Hub) setMode(connID string, payload proto.SetMode) {
	mode := strings.ToLower(strings.TrimSpace(payload.Mode))

	h.mu.Lock()
	if solo := h.solo[connID]; solo != nil {
		delete(h.solo, connID)
		go solo.Close()
	}
	if roomID, ok := h.roomByConn[connID]; ok && mode != proto.ModeVersus {
		delete(h.roomByConn, connID)
		if room := h.rooms[roomID]; room != nil {
			go func() {
				room.Disconnect(connID)
				h.collect(roomID, room)
			}()
		}
	}

	if mode == proto.ModeVersus {
		h.mu.Unlock()
		return
	}

	var sessionMode match.Mode
	switch mode {
	case proto.ModeBot:
		sessionMode = match.ModeBot
	case proto.ModeSelf:
		sessionMode = match.ModeSelfPlay
	default:
		h.mu.Unlock()
		h.notifyError(connID, "unknown mode: "+payload.Mode)
		return
	}

	difficulty := h.opts.DefaultDifficulty
	if strings.TrimSpace(payload.Difficulty) != "" {
		difficulty = bot.ParseDifficulty(payload.Difficulty)
	}
	humanSide := oracle.SideWhite
	if h.soloFlip[connID] {
		humanSide = oracle.SideBlack
	}
	h.soloFlip[connID] = !h.soloFlip[connID]

	sess := match.NewSession(match.Config{
		ID:         "solo-" + uuid.NewString(),
		Mode:       sessionMode,
		Difficulty: difficulty,
		Engine:     h.opts.Engine,
		Emitter:    h,
		Grace:      h.opts.Grace,
		Tick:       h.opts.Tick,
	})
	h.solo[connID] = sess
	name := h.names[connID]
	h.mu.Unlock()

	obslog.L().Info("solo_session_create",
		zap.String("conn", connID),
		zap.String("mode", mode),
		zap.String("side", string(humanSide)),
	)
	sess.SeatSolo(connID, name, humanSide)
}

// sessionFor resolves the acting connection's current session, favoring an
// explicitly joined room over the ungrouped solo session.
func (h *Hub) sessionFor(connID string) *match.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if roomID, ok := h.roomByConn[connID]; ok {
		if sess, ok := h.rooms[roomID]; ok {
			return sess
		}
	}
	return h.solo[connID]
}

// collect drops a room session once nothing references it.
func (h *Hub) collect(roomID string, sess *match.Session) {
	if !sess.Empty() {
		return
	}
	h.mu.Lock()
	if h.rooms[roomID] == sess {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()
	sess.Close()
	obslog.L().Info("room_collect", zap.String("match", roomID))
}

func (h *Hub) notifyError(connID, detail string) {
	h.Send(connID, proto.EventError, proto.ErrorNotice{Detail: detail})
}

func decodeString(data json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", err
	}
	return s, nil
}
