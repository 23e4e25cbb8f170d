package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	query "github.com/hanpama/blockgraph/internal/query"
	schema "github.com/hanpama/blockgraph/internal/schema"
)

const testSDL = `
type Token @entity {
  id: ID!
  symbol: String!
}
`

// fakeRunner serves canned results and records what it received.
type fakeRunner struct {
	result *query.Result
	stream func(ctx context.Context) *query.Stream
	errs   []*query.Error

	lastQuery *query.Query
}

func (f *fakeRunner) RunQuery(ctx context.Context, q *query.Query) *query.Result {
	f.lastQuery = q
	if f.result != nil {
		return f.result
	}
	return &query.Result{Data: map[string]any{}}
}

func (f *fakeRunner) RunSubscription(ctx context.Context, sub *query.Subscription) (*query.Stream, []*query.Error) {
	if len(f.errs) > 0 {
		return nil, f.errs
	}
	return f.stream(ctx), nil
}

func newTestHandler(t *testing.T, run Runner, opts ...Option) *Handler {
	t.Helper()
	sch, err := schema.BuildFromSDL("test-deployment", "test.graphql", testSDL)
	if err != nil {
		t.Fatalf("BuildFromSDL: %v", err)
	}
	return New(run, sch, opts...)
}

func postJSON(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/graphql", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServeHTTP(t *testing.T) {
	t.Run("POST executes and returns the result", func(t *testing.T) {
		run := &fakeRunner{result: &query.Result{Data: map[string]any{"token": map[string]any{"id": "t1"}}}}
		h := newTestHandler(t, run)

		w := postJSON(t, h, `{"query":"{ token(id: \"t1\") { id } }"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status %d", w.Code)
		}
		var out struct {
			Data map[string]any `json:"data"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.Data["token"].(map[string]any)["id"] != "t1" {
			t.Fatalf("body = %s", w.Body.String())
		}
		if run.lastQuery == nil || run.lastQuery.Schema.ID != "test-deployment" {
			t.Fatal("runner did not receive the parsed query")
		}
	})

	t.Run("Errors carry their kind in extensions", func(t *testing.T) {
		run := &fakeRunner{result: query.ErrResult(query.Constraintf("no indexed block with hash 0xff"))}
		h := newTestHandler(t, run)

		w := postJSON(t, h, `{"query":"{ tokens { id } }"}`)
		var out struct {
			Data   any `json:"data"`
			Errors []struct {
				Message    string         `json:"message"`
				Extensions map[string]any `json:"extensions"`
			} `json:"errors"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.Data != nil {
			t.Fatalf("data = %v", out.Data)
		}
		if len(out.Errors) != 1 || out.Errors[0].Extensions["code"] != "CONSTRAINT" {
			t.Fatalf("errors = %+v", out.Errors)
		}
	})

	t.Run("Syntax errors fail without reaching the runner", func(t *testing.T) {
		run := &fakeRunner{}
		h := newTestHandler(t, run)

		w := postJSON(t, h, `{"query":"{ token("}`)
		if w.Code != http.StatusOK {
			t.Fatalf("status %d", w.Code)
		}
		if run.lastQuery != nil {
			t.Fatal("runner must not run for unparsable queries")
		}
		if !strings.Contains(w.Body.String(), "VALIDATION") {
			t.Fatalf("body = %s", w.Body.String())
		}
	})

	t.Run("GET with query parameter", func(t *testing.T) {
		run := &fakeRunner{}
		h := newTestHandler(t, run)

		req := httptest.NewRequest("GET", "/graphql?query={tokens{id}}", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("status %d", w.Code)
		}
		if run.lastQuery == nil {
			t.Fatal("runner did not run")
		}
	})

	t.Run("Batch requests return one result per entry", func(t *testing.T) {
		run := &fakeRunner{}
		h := newTestHandler(t, run)

		w := postJSON(t, h, `[{"query":"{ tokens { id } }"},{"query":"{ tokens { id } }"}]`)
		var out []any
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(out) != 2 {
			t.Fatalf("batch result count = %d", len(out))
		}
	})

	t.Run("Missing query is a bad request", func(t *testing.T) {
		h := newTestHandler(t, &fakeRunner{})
		w := postJSON(t, h, `{}`)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status %d", w.Code)
		}
	})

	t.Run("Oversized body is rejected", func(t *testing.T) {
		h := newTestHandler(t, &fakeRunner{}, WithMaxBodyBytes(16))
		w := postJSON(t, h, `{"query":"{ tokens { id symbol } }"}`)
		if w.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("status %d", w.Code)
		}
	})

	t.Run("Method not allowed", func(t *testing.T) {
		h := newTestHandler(t, &fakeRunner{})
		req := httptest.NewRequest("DELETE", "/graphql", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status %d", w.Code)
		}
	})

	t.Run("CORS preflight", func(t *testing.T) {
		h := newTestHandler(t, &fakeRunner{}, WithCORS("*"))
		req := httptest.NewRequest("OPTIONS", "/graphql", nil)
		req.Header.Set("Origin", "https://example.com")
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusNoContent {
			t.Fatalf("status %d", w.Code)
		}
		if w.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Fatalf("headers = %v", w.Header())
		}
	})
}

func TestWebsocketSubscriptions(t *testing.T) {
	newStream := func(results ...*query.Result) func(ctx context.Context) *query.Stream {
		return func(ctx context.Context) *query.Stream {
			ch := make(chan *query.Result, len(results))
			for _, r := range results {
				ch <- r
			}
			close(ch)
			return &query.Stream{Results: ch, Cancel: func() {}}
		}
	}

	dial := func(t *testing.T, h http.Handler) *websocket.Conn {
		t.Helper()
		srv := httptest.NewServer(h)
		t.Cleanup(srv.Close)
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/graphql"
		conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{
			"Sec-WebSocket-Protocol": []string{"graphql-transport-ws"},
		})
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { conn.Close() })
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		return conn
	}

	readMsg := func(t *testing.T, conn *websocket.Conn) wsMessage {
		t.Helper()
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	t.Run("Subscribe delivers next and complete", func(t *testing.T) {
		run := &fakeRunner{stream: newStream(
			&query.Result{Data: map[string]any{"tokens": []any{}}},
			query.ErrResult(query.Streamf("store is compacting")),
		)}
		h := newTestHandler(t, run)
		conn := dial(t, h)

		if err := conn.WriteJSON(wsMessage{Type: wsMsgConnectionInit}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if msg := readMsg(t, conn); msg.Type != wsMsgConnectionAck {
			t.Fatalf("expected ack, got %+v", msg)
		}

		payload, _ := json.Marshal(GraphQLRequest{Query: `subscription { tokens { id } }`})
		if err := conn.WriteJSON(wsMessage{ID: "op1", Type: wsMsgSubscribe, Payload: payload}); err != nil {
			t.Fatalf("write: %v", err)
		}

		first := readMsg(t, conn)
		if first.Type != wsMsgNext || first.ID != "op1" {
			t.Fatalf("expected next, got %+v", first)
		}
		second := readMsg(t, conn)
		if second.Type != wsMsgNext {
			t.Fatalf("error cycles must arrive as next, got %+v", second)
		}
		if !strings.Contains(string(second.Payload), "STREAM") {
			t.Fatalf("payload = %s", second.Payload)
		}
		if done := readMsg(t, conn); done.Type != wsMsgComplete || done.ID != "op1" {
			t.Fatalf("expected complete, got %+v", done)
		}
	})

	t.Run("Subscription failure arrives as an error message", func(t *testing.T) {
		run := &fakeRunner{errs: []*query.Error{query.Bindf("store has no indexed blocks yet")}}
		h := newTestHandler(t, run)
		conn := dial(t, h)

		conn.WriteJSON(wsMessage{Type: wsMsgConnectionInit})
		readMsg(t, conn) // ack

		payload, _ := json.Marshal(GraphQLRequest{Query: `subscription { tokens { id } }`})
		conn.WriteJSON(wsMessage{ID: "op1", Type: wsMsgSubscribe, Payload: payload})

		msg := readMsg(t, conn)
		if msg.Type != wsMsgError || msg.ID != "op1" {
			t.Fatalf("expected error message, got %+v", msg)
		}
		if !strings.Contains(string(msg.Payload), "BIND") {
			t.Fatalf("payload = %s", msg.Payload)
		}
	})

	t.Run("Subscribe before init closes the connection", func(t *testing.T) {
		h := newTestHandler(t, &fakeRunner{})
		conn := dial(t, h)

		payload, _ := json.Marshal(GraphQLRequest{Query: `subscription { tokens { id } }`})
		conn.WriteJSON(wsMessage{ID: "op1", Type: wsMsgSubscribe, Payload: payload})

		var msg wsMessage
		err := conn.ReadJSON(&msg)
		if err == nil {
			t.Fatalf("expected close, got %+v", msg)
		}
		if !websocket.IsCloseError(err, 4401) {
			t.Fatalf("close error = %v", err)
		}
	})

	t.Run("Ping answers pong", func(t *testing.T) {
		h := newTestHandler(t, &fakeRunner{})
		conn := dial(t, h)

		conn.WriteJSON(wsMessage{Type: wsMsgConnectionInit})
		readMsg(t, conn) // ack
		conn.WriteJSON(wsMessage{Type: wsMsgPing})
		if msg := readMsg(t, conn); msg.Type != wsMsgPong {
			t.Fatalf("expected pong, got %+v", msg)
		}
	})
}
