package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rhuss/chorus/pkg/api"
	"github.com/rhuss/chorus/pkg/transport"
)

const wsWriteTimeout = 10 * time.Second

// Client frame types on /v1/ws.
const (
	frameSubmit = "submit"
	frameCancel = "cancel"
)

// wsFrame is a client message on the WebSocket endpoint:
//
//	{"type":"submit","query":"..."}
//	{"type":"cancel","round":"round_..."}
type wsFrame struct {
	Type    string `json:"type"`
	Query   string `json:"query,omitempty"`
	RoundID string `json:"round,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWebSocket handles GET /v1/ws. Each submit frame starts a streaming
// round whose events are sent back as JSON text frames; a cancel frame
// stops a round started on any connection. Closing the connection cancels
// its rounds.
func (a *Adapter) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	out := &wsConn{conn: conn}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	conn.SetReadLimit(a.config.MaxBodySize)
	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read failed", "error", err.Error())
			}
			return
		}

		switch f.Type {
		case frameSubmit:
			query := f.Query
			wg.Go(func() {
				a.runWebSocketRound(ctx, out, query)
			})
		case frameCancel:
			if !a.inflight.Cancel(f.RoundID) {
				out.writeError(f.RoundID, api.NewNotFoundError(fmt.Sprintf("round %q is not running", f.RoundID)))
			}
		default:
			out.writeError("", api.NewInvalidRequestError("type", fmt.Sprintf("unknown frame type %q", f.Type)))
		}
	}
}

func (a *Adapter) runWebSocketRound(ctx context.Context, out *wsConn, query string) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rw := &wsRoundWriter{
		conn: out,
		onCreated: func(id string) {
			a.inflight.Register(id, cancel)
		},
	}
	err := a.creator.CreateRound(ctx, &api.CreateRoundRequest{Query: query, Stream: true}, rw)

	if id := rw.roundID(); id != "" {
		a.inflight.Remove(id)
	}
	if err != nil {
		out.writeError(rw.roundID(), transport.AsAPIError(err))
	}
}

// wsConn serializes writes to one WebSocket connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func (c *wsConn) writeError(roundID string, apiErr *api.APIError) {
	c.write(api.RoundEvent{Type: api.EventRoundError, RoundID: roundID, Error: apiErr})
}

// wsRoundWriter implements transport.RoundWriter for one round on a
// WebSocket connection.
type wsRoundWriter struct {
	conn      *wsConn
	onCreated func(id string)

	mu        sync.Mutex
	id        string
	completed bool
}

var _ transport.RoundWriter = (*wsRoundWriter)(nil)

func (w *wsRoundWriter) WriteEvent(_ context.Context, event api.RoundEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.completed {
		return errors.New("cannot write event: writer is completed")
	}
	if event.Type == api.EventRoundCreated && w.id == "" {
		w.id = event.RoundID
		if w.onCreated != nil {
			w.onCreated(event.RoundID)
		}
	}
	if err := w.conn.write(event); err != nil {
		return err
	}
	w.completed = event.Type.IsTerminal()
	return nil
}

func (w *wsRoundWriter) WriteRound(_ context.Context, record *api.RoundRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.completed {
		return errors.New("cannot write round: writer is completed")
	}
	w.completed = true
	return w.conn.write(api.RoundEvent{Type: api.EventRoundCompleted, RoundID: record.ID, Round: record})
}

func (w *wsRoundWriter) Flush() error { return nil }

func (w *wsRoundWriter) roundID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}
