package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/time/rate"

	"github.com/matthewbaird/cascade/internal/cascade"
	"github.com/matthewbaird/cascade/internal/config"
	"github.com/matthewbaird/cascade/internal/eventbus"
	"github.com/matthewbaird/cascade/internal/metrics"
	"github.com/matthewbaird/cascade/internal/session"
)

const (
	writeTimeout = 10 * time.Second
	// outputBuffer is how many output pushes may queue for one connection.
	outputBuffer = 16
)

// Handler manages WebSocket connections for cascade sessions.
type Handler struct {
	sessions  *session.Manager
	positions []config.Position
	outputs   *eventbus.OutputConsumer

	limit rate.Limit
	burst int
}

// NewHandler creates a WebSocket handler. Each connection may send at most
// limit messages per second with the given burst; a zero limit disables
// throttling. outputs may be nil, in which case no "output" messages are pushed.
func NewHandler(sessions *session.Manager, positions []config.Position, outputs *eventbus.OutputConsumer, limit rate.Limit, burst int) *Handler {
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Handler{
		sessions:  sessions,
		positions: positions,
		outputs:   outputs,
		limit:     limit,
		burst:     burst,
	}
}

// ServeHTTP upgrades to WebSocket and runs the message loop. The connection
// attaches to ?session=<id> when given, otherwise it opens a new session
// seeded from ?identity= once the upgrade has succeeded.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var sess *session.Session
	if id := r.URL.Query().Get("session"); id != "" {
		var err error
		if sess, err = h.sessions.Get(id); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("wire: websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if sess == nil {
		sess = h.sessions.Create(ctx, strings.TrimSpace(r.URL.Query().Get("identity")))
	}

	if h.outputs != nil {
		pending := make(chan cascade.LookupValue, outputBuffer)
		var dropOnce sync.Once
		stop := h.outputs.Listen(sess.ID, func(v cascade.LookupValue) {
			select {
			case pending <- v:
			default:
				dropOnce.Do(func() {
					log.Printf("wire: session %s: dropping outputs, client not reading", sess.ID)
				})
			}
		})
		defer stop()
		go h.pushOutputs(ctx, conn, pending)
	}

	var state StateData
	sess.Do(func(c *cascade.Controller) { state = BuildState(c, h.positions) })
	h.send(ctx, conn, ServerMessage{
		Type: "session",
		Data: SessionData{SessionID: sess.ID, State: state},
	})

	limiter := rate.NewLimiter(h.limit, h.burst)

	// Message loop
	for {
		var msg ClientMessage
		err := wsjson.Read(ctx, conn, &msg)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				log.Printf("wire: connection closed: %v", websocket.CloseStatus(err))
			}
			return
		}

		if !limiter.Allow() {
			h.sendError(ctx, conn, msg.ID, "rate_limited", "too many messages")
			continue
		}

		switch msg.Type {
		case "select":
			h.handleSelect(ctx, conn, sess, msg)
		case "options":
			h.handleOptions(ctx, conn, sess, msg)
		case "state":
			sess.Do(func(c *cascade.Controller) { state = BuildState(c, h.positions) })
			h.send(ctx, conn, ServerMessage{Type: "state", RequestID: msg.ID, Data: state})
		case "reset":
			sess.Do(func(c *cascade.Controller) {
				c.Reset()
				state = BuildState(c, h.positions)
			})
			h.send(ctx, conn, ServerMessage{Type: "state", RequestID: msg.ID, Data: state})
		case "ping":
			h.send(ctx, conn, ServerMessage{Type: "pong", RequestID: msg.ID})
		default:
			h.sendError(ctx, conn, msg.ID, "unknown_type", fmt.Sprintf("unknown message type: %s", msg.Type))
		}
	}
}

// pushOutputs writes queued output changes until ctx is done. It runs on the
// connection's goroutine so a slow client never stalls the event bus.
func (h *Handler) pushOutputs(ctx context.Context, conn *websocket.Conn, pending <-chan cascade.LookupValue) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-pending:
			h.send(ctx, conn, ServerMessage{Type: "output", Data: v})
		}
	}
}

func (h *Handler) handleSelect(ctx context.Context, conn *websocket.Conn, sess *session.Session, msg ClientMessage) {
	var data SelectData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid select data")
		return
	}

	var (
		state StateData
		err   error
	)
	sess.Do(func(c *cascade.Controller) {
		_, err = c.Select(data.Position, data.Value)
		state = BuildState(c, h.positions)
	})
	metrics.ObserveSelect(err)
	if err != nil {
		h.sendError(ctx, conn, msg.ID, ErrorCode(err), err.Error())
		return
	}
	h.send(ctx, conn, ServerMessage{Type: "state", RequestID: msg.ID, Data: state})
}

func (h *Handler) handleOptions(ctx context.Context, conn *websocket.Conn, sess *session.Session, msg ClientMessage) {
	var data OptionsData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		h.sendError(ctx, conn, msg.ID, "invalid_data", "invalid options data")
		return
	}

	var options []string
	sess.Do(func(c *cascade.Controller) {
		options = c.Options(data.Position)
	})
	if data.Query != "" {
		options = cascade.SearchOptions(options, data.Query)
	}
	if options == nil {
		options = []string{}
	}
	h.send(ctx, conn, ServerMessage{
		Type:      "options",
		RequestID: msg.ID,
		Data:      OptionsResultData{Position: data.Position, Options: options},
	})
}

// send writes one message. A write that cannot finish within writeTimeout
// closes the connection.
func (h *Handler) send(ctx context.Context, conn *websocket.Conn, msg ServerMessage) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		log.Printf("wire: write error: %v", err)
	}
}

func (h *Handler) sendError(ctx context.Context, conn *websocket.Conn, requestID, code, message string) {
	h.send(ctx, conn, ServerMessage{
		Type:      "error",
		RequestID: requestID,
		Data: ErrorData{
			Code:    code,
			Message: message,
		},
	})
}
