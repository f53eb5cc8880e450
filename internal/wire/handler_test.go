package wire

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/matthewbaird/cascade/internal/activity"
	"github.com/matthewbaird/cascade/internal/cascade"
	"github.com/matthewbaird/cascade/internal/config"
	"github.com/matthewbaird/cascade/internal/event"
	"github.com/matthewbaird/cascade/internal/eventbus"
	"github.com/matthewbaird/cascade/internal/session"
	"github.com/matthewbaird/cascade/internal/source"
)

// serverMsg mirrors ServerMessage with the payload left raw.
type serverMsg struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type fixture struct {
	srv      *httptest.Server
	sessions *session.Manager
	outputs  *eventbus.OutputConsumer
}

func newFixture(t *testing.T, limit rate.Limit, burst int) *fixture {
	t.Helper()
	records := []cascade.Record{
		{"id": "1", "make": "Ford", "model": "Focus", "name": "Ford Focus"},
		{"id": "2", "make": "Ford", "model": "Fiesta", "name": "Ford Fiesta"},
		{"id": "3", "make": "Audi", "model": "A4", "name": "Audi A4"},
	}
	settings := cascade.Settings{
		Chain:           cascade.FieldChain{"make", "model"},
		IdentifierField: "id",
		PrimaryField:    "name",
		EntityType:      "vehicle",
	}

	bus := eventbus.New(64)
	outputs := eventbus.NewOutputConsumer()
	bus.Subscribe("outputs", outputs)
	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)

	rec := event.NewActivityRecorder(activity.NewMemoryStore())
	rec.SetPublisher(bus)
	sessions := session.NewManager(settings, source.NewMemory(records, source.Query{}), rec, time.Hour, time.Hour)

	positions := []config.Position{{Field: "make", Label: "Make"}, {Field: "model", Label: "Model", Placeholder: "Pick a model"}}
	srv := httptest.NewServer(NewHandler(sessions, positions, outputs, limit, burst))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		bus.Stop()
	})
	return &fixture{srv: srv, sessions: sessions, outputs: outputs}
}

func (f *fixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + query
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ, id string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(context.Background(), conn, ClientMessage{Type: typ, ID: id, Data: raw}))
}

// readUntil reads messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) serverMsg {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var msg serverMsg
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		if msg.Type == typ {
			return msg
		}
	}
}

func TestHandler_SessionSelectAndOutput(t *testing.T) {
	f := newFixture(t, 0, 0)
	conn := f.dial(t, "")

	var sess SessionData
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "session").Data, &sess))
	require.NotEmpty(t, sess.SessionID)
	require.Len(t, sess.State.Positions, 2)
	assert.True(t, sess.State.Positions[0].Visible)
	assert.False(t, sess.State.Positions[1].Visible)
	assert.Equal(t, "Pick a model", sess.State.Positions[1].Placeholder)

	send(t, conn, "options", "o1", OptionsData{Position: 0})
	var opts OptionsResultData
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "options").Data, &opts))
	assert.Equal(t, []string{"Audi", "Ford"}, opts.Options)

	send(t, conn, "select", "s1", SelectData{Position: 0, Value: "Ford"})
	stateMsg := readUntil(t, conn, "state")
	assert.Equal(t, "s1", stateMsg.RequestID)

	send(t, conn, "options", "o2", OptionsData{Position: 1, Query: "fi"})
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "options").Data, &opts))
	assert.Equal(t, []string{"Fiesta"}, opts.Options)

	send(t, conn, "select", "s2", SelectData{Position: 1, Value: "Fiesta"})
	var state StateData
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "state").Data, &state))
	require.NotNil(t, state.Output)
	assert.Equal(t, "2", state.Output.Identifier)

	var out cascade.LookupValue
	for out.ID != "2" {
		require.NoError(t, json.Unmarshal(readUntil(t, conn, "output").Data, &out))
	}
	assert.Equal(t, cascade.LookupValue{ID: "2", EntityType: "vehicle", Name: "Ford Fiesta"}, out)
}

func TestHandler_Errors(t *testing.T) {
	f := newFixture(t, 0, 0)
	conn := f.dial(t, "")
	readUntil(t, conn, "session")

	var e ErrorData
	send(t, conn, "select", "bad", SelectData{Position: 1, Value: "Focus"})
	msg := readUntil(t, conn, "error")
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, "bad", msg.RequestID)
	assert.Equal(t, "prefix_violation", e.Code)

	send(t, conn, "select", "oob", SelectData{Position: 7, Value: "x"})
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "error").Data, &e))
	assert.Equal(t, "invalid_position", e.Code)

	send(t, conn, "bogus", "b", nil)
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "error").Data, &e))
	assert.Equal(t, "unknown_type", e.Code)

	send(t, conn, "ping", "p", nil)
	assert.Equal(t, "p", readUntil(t, conn, "pong").RequestID)
}

func TestHandler_SeedAndReattach(t *testing.T) {
	f := newFixture(t, 0, 0)
	conn := f.dial(t, "?identity=3")

	var sess SessionData
	require.NoError(t, json.Unmarshal(readUntil(t, conn, "session").Data, &sess))
	assert.Equal(t, "Audi", sess.State.Positions[0].Value)
	assert.Equal(t, "A4", sess.State.Positions[1].Value)

	again := f.dial(t, "?session="+sess.SessionID)
	var reattached SessionData
	require.NoError(t, json.Unmarshal(readUntil(t, again, "session").Data, &reattached))
	assert.Equal(t, sess.SessionID, reattached.SessionID)

	send(t, again, "reset", "r", nil)
	var state StateData
	require.NoError(t, json.Unmarshal(readUntil(t, again, "state").Data, &state))
	assert.Equal(t, "", state.Positions[0].Value)
	assert.Nil(t, state.Output)
}

func TestHandler_UnknownSession(t *testing.T) {
	f := newFixture(t, 0, 0)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "?session=missing"
	_, _, err := websocket.Dial(context.Background(), url, nil)
	assert.Error(t, err)
}

func TestHandler_RateLimited(t *testing.T) {
	f := newFixture(t, rate.Every(time.Hour), 1)
	conn := f.dial(t, "")
	readUntil(t, conn, "session")

	send(t, conn, "ping", "1", nil)
	assert.Equal(t, "1", readUntil(t, conn, "pong").RequestID)

	send(t, conn, "ping", "2", nil)
	var e ErrorData
	msg := readUntil(t, conn, "error")
	require.NoError(t, json.Unmarshal(msg.Data, &e))
	assert.Equal(t, "rate_limited", e.Code)
	assert.Equal(t, "2", msg.RequestID)
}

func TestHandler_StalledClientDoesNotBlockOutputs(t *testing.T) {
	f := newFixture(t, 0, 0)

	stalled := f.dial(t, "")
	var sess SessionData
	require.NoError(t, json.Unmarshal(readUntil(t, stalled, "session").Data, &sess))

	// The stalled connection never reads again.
	done := make(chan struct{})
	go func() {
		defer close(done)
		v := cascade.LookupValue{ID: "1", EntityType: "vehicle", Name: strings.Repeat("x", 64)}
		evt := event.NewOutputChanged(sess.SessionID, v)
		for range 50000 {
			_ = f.outputs.HandleEvent(context.Background(), evt)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("output fan-out blocked on a client that is not reading")
	}

	other := f.dial(t, "")
	readUntil(t, other, "session")
	send(t, other, "select", "s1", SelectData{Position: 0, Value: "Audi"})
	var out cascade.LookupValue
	require.NoError(t, json.Unmarshal(readUntil(t, other, "output").Data, &out))
	assert.Equal(t, "3", out.ID)
}

func TestHandler_FailedUpgradeCreatesNoSession(t *testing.T) {
	f := newFixture(t, 0, 0)

	resp, err := http.Get(f.srv.URL + "?identity=1")
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.NotEqual(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, 0, f.sessions.Len())
}
