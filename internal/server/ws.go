package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	query "github.com/hanpama/blockgraph/internal/query"
	reqid "github.com/hanpama/blockgraph/internal/reqid"
)

// Websocket transport for subscriptions, speaking the graphql-transport-ws
// protocol: connection_init/connection_ack, then subscribe/next/error/complete
// per operation. Each cycle result of a subscription becomes one "next"
// message; error-valued cycles are also "next" messages, since they do not end
// the stream.

const (
	wsMsgConnectionInit = "connection_init"
	wsMsgConnectionAck  = "connection_ack"
	wsMsgPing           = "ping"
	wsMsgPong           = "pong"
	wsMsgSubscribe      = "subscribe"
	wsMsgNext           = "next"
	wsMsgError          = "error"
	wsMsgComplete       = "complete"
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	up := upgrader
	if len(h.opt.CORS.AllowedOrigins) > 0 {
		up.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || contains(h.opt.CORS.AllowedOrigins, "*") || contains(h.opt.CORS.AllowedOrigins, origin)
		}
	}
	// A server-generated connection id, echoed in the handshake so clients
	// can correlate their logs with ours.
	connID := uuid.NewString()
	conn, err := up.Upgrade(w, r, http.Header{
		"Sec-WebSocket-Protocol": []string{"graphql-transport-ws"},
		"X-Connection-Id":        []string{connID},
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	ctx, _ = reqid.NewContext(ctx)

	c := &wsConn{
		conn: conn,
		ops:  map[string]func(){},
	}
	defer c.closeAll()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case wsMsgConnectionInit:
			if !c.init() {
				c.closeWith(4429, "too many initialisation requests")
				return
			}
			c.write(wsMessage{Type: wsMsgConnectionAck})

		case wsMsgPing:
			c.write(wsMessage{Type: wsMsgPong})

		case wsMsgSubscribe:
			if !c.inited() {
				c.closeWith(4401, "unauthorized")
				return
			}
			if msg.ID == "" {
				c.closeWith(4400, "subscribe requires an id")
				return
			}
			if c.has(msg.ID) {
				c.closeWith(4409, "subscriber already exists: "+msg.ID)
				return
			}
			h.startOperation(ctx, c, msg)

		case wsMsgComplete:
			c.stop(msg.ID)
		}
	}
}

// startOperation parses the payload and starts the subscription stream,
// forwarding its results until it closes or the client completes the op.
func (h *Handler) startOperation(ctx context.Context, c *wsConn, msg wsMessage) {
	var req GraphQLRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		c.writeErrors(msg.ID, query.Validationf("invalid subscribe payload"))
		return
	}
	q, errs := query.Parse(h.schema, req.Query, req.OperationName, req.Variables)
	if len(errs) > 0 {
		c.writeErrors(msg.ID, errs...)
		return
	}

	opCtx, opCancel := context.WithCancel(ctx)
	stream, serrs := h.run.RunSubscription(opCtx, &query.Subscription{Query: q})
	if len(serrs) > 0 {
		opCancel()
		c.writeErrors(msg.ID, serrs...)
		return
	}
	c.add(msg.ID, func() {
		opCancel()
		stream.Cancel()
	})

	go func() {
		defer c.remove(msg.ID)
		for res := range stream.Results {
			payload, err := json.Marshal(toSpecResult(res))
			if err != nil {
				continue
			}
			c.write(wsMessage{ID: msg.ID, Type: wsMsgNext, Payload: payload})
		}
		c.write(wsMessage{ID: msg.ID, Type: wsMsgComplete})
	}()
}

// wsConn serializes writes to one websocket connection and tracks the
// active operations on it.
type wsConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	didInit bool
	ops     map[string]func()
}

func (c *wsConn) init() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.didInit {
		return false
	}
	c.didInit = true
	return true
}

func (c *wsConn) inited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.didInit
}

func (c *wsConn) has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ops[id]
	return ok
}

func (c *wsConn) add(id string, cancel func()) {
	c.mu.Lock()
	c.ops[id] = cancel
	c.mu.Unlock()
}

// stop cancels an operation at the client's request.
func (c *wsConn) stop(id string) {
	c.mu.Lock()
	cancel, ok := c.ops[id]
	delete(c.ops, id)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// remove drops bookkeeping after the stream goroutine finished.
func (c *wsConn) remove(id string) {
	c.mu.Lock()
	delete(c.ops, id)
	c.mu.Unlock()
}

func (c *wsConn) closeAll() {
	c.mu.Lock()
	cancels := make([]func(), 0, len(c.ops))
	for _, cancel := range c.ops {
		cancels = append(cancels, cancel)
	}
	c.ops = map[string]func(){}
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	_ = c.conn.Close()
}

func (c *wsConn) write(msg wsMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_ = c.conn.WriteJSON(msg)
}

func (c *wsConn) writeErrors(id string, errs ...*query.Error) {
	out := make([]specError, len(errs))
	for i, e := range errs {
		out[i] = specError{Message: e.Message, Path: e.Path, Extensions: e.MarshalExtensions()}
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return
	}
	c.write(wsMessage{ID: id, Type: wsMsgError, Payload: payload})
}

func (c *wsConn) closeWith(code int, reason string) {
	data := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, data, time.Now().Add(time.Second))
	_ = c.conn.Close()
}
