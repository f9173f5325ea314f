// Package proto defines the websocket event contract between server and clients.
package proto

import "encoding/json"

// Client → server events.
const (
	EventJoinRoom    = "joinRoom"
	EventSetUsername = "setUsername"
	EventSetMode     = "setMode"
	EventMove        = "move"
	EventResign      = "resign"
	EventResetGame   = "resetGame"
	EventReconnect   = "reconnectPlayer"
)

// Server → client events.
const (
	EventPlayerRole    = "playerRole"
	EventSpectatorRole = "spectatorRole"
	EventBoardState    = "boardState"
	EventPlayersUpdate = "playersUpdate"
	EventCountdown     = "opponentDisconnectCountdown"
	EventGameOver      = "gameOver"
	EventInvalidMove   = "InvalidMove"
	EventError         = "error"
	EventWaiting       = "waiting"
	EventStartGame     = "startGame"
	EventHideLink      = "hideLink"
)

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Game modes accepted by setMode.
const (
	ModeBot    = "bot"
	ModeSelf   = "self"
	ModeVersus = "versus"
)

// Game-over reasons.
const (
	ReasonCheckmate    = "checkmate"
	ReasonStalemate    = "stalemate"
	ReasonDraw         = "draw"
	ReasonResign       = "resign"
	ReasonDisconnected = "opponent_disconnected"
)

type JoinRoom struct {
	MatchID string `json:"matchId"`
}

type SetMode struct {
	Mode       string `json:"mode"`
	Difficulty string `json:"difficulty,omitempty"`
}

// Move is shared by the client request and the server echo.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type Resign struct {
	// ResigningAs must be set in self-play, where one connection owns both sides.
	ResigningAs string `json:"resigningAs,omitempty"`
}

type Reconnect struct {
	Side string `json:"side"`
}

type PlayersUpdate struct {
	White string `json:"white"`
	Black string `json:"black"`
}

type Countdown struct {
	Side             string `json:"side"`
	SecondsRemaining int    `json:"secondsRemaining"`
}

type GameOver struct {
	// Winner is "white", "black" or "draw".
	Winner string `json:"winner"`
	Reason string `json:"reason"`
}

type ErrorNotice struct {
	Detail string `json:"detail"`
}
