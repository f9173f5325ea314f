// Package ws is the real-time transport adapter: one websocket per client,
// JSON event envelopes in both directions.
package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/blunderdome/chessroom/internal/hub"
	"github.com/blunderdome/chessroom/internal/obslog"
	"github.com/blunderdome/chessroom/pkg/proto"
)

const (
	writeTimeout = 5 * time.Second
	egressDepth  = 64
)

// Server accepts websocket clients and feeds their events to the hub.
type Server struct {
	hub *hub.Hub
}

func NewServer(h *hub.Hub) *Server { return &Server{hub: h} }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  []string{"*"},
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_error", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	conn := newConn(connID, c)
	s.hub.Connect(connID, conn)
	defer func() {
		s.hub.Disconnect(connID)
		conn.close()
	}()

	ctx := r.Context()
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, c, &env); err != nil {
			return
		}
		if strings.TrimSpace(env.Event) == "" {
			continue
		}
		s.hub.Event(connID, env.Event, env.Data)
	}
}

// conn serializes outbound writes through a queue and a single writer
// goroutine; senders never block on a slow client.
type conn struct {
	id    string
	ws    *websocket.Conn
	queue chan proto.Envelope
	stop  chan struct{}
	once  sync.Once
}

func newConn(id string, ws *websocket.Conn) *conn {
	c := &conn{
		id:    id,
		ws:    ws,
		queue: make(chan proto.Envelope, egressDepth),
		stop:  make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Send implements hub.Sender. Frames to a stalled connection are dropped once
// the queue fills; the session state stays authoritative on the server.
func (c *conn) Send(env proto.Envelope) {
	select {
	case <-c.stop:
	case c.queue <- env:
	default:
		obslog.L().Warn("egress_queue_full", zap.String("conn", c.id), zap.String("event", env.Event))
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.stop:
			return
		case env := <-c.queue:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, c.ws, env)
			cancel()
			if err != nil {
				obslog.L().Debug("egress_write_error", zap.String("conn", c.id), zap.Error(err))
				return
			}
		}
	}
}

func (c *conn) close() {
	c.once.Do(func() { close(c.stop) })
	_ = c.ws.Close(websocket.StatusNormalClosure, "close")
}
