package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/cascade/internal/activity"
	"github.com/matthewbaird/cascade/internal/cascade"
	"github.com/matthewbaird/cascade/internal/config"
	"github.com/matthewbaird/cascade/internal/event"
	"github.com/matthewbaird/cascade/internal/session"
	"github.com/matthewbaird/cascade/internal/source"
	"github.com/matthewbaird/cascade/internal/wire"
)

func testConfig() config.Config {
	return config.Config{
		EntityType:      "vehicle",
		IdentifierField: "id",
		PrimaryField:    "name",
		ResultField:     "code",
		Chain: []config.Position{
			{Field: "make", Label: "Make"},
			{Field: "model", Label: "Model"},
		},
		MaxRecords: 1000,
	}
}

func testRecords() []cascade.Record {
	return []cascade.Record{
		{"id": "1", "make": "Ford", "model": "Focus", "name": "Ford Focus", "code": "FF"},
		{"id": "2", "make": "Ford", "model": "Fiesta", "name": "Ford Fiesta", "code": "FI"},
		{"id": "3", "make": "Audi", "model": "A4", "name": "Audi A4", "code": "A4"},
	}
}

func newTestServer(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	store := activity.NewMemoryStore()
	sessions := session.NewManager(cfg.Settings(), source.NewMemory(testRecords(), source.Query{}),
		event.NewActivityRecorder(store), time.Hour, time.Hour)
	srv := httptest.NewServer(NewRouter(Config{
		Control:  cfg,
		Sessions: sessions,
		Activity: store,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func createSession(t *testing.T, srv *httptest.Server, identity string) sessionResponse {
	t.Helper()
	resp, body := do(t, http.MethodPost, srv.URL+"/api/cascade/sessions", createSessionRequest{Identity: identity})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var s sessionResponse
	require.NoError(t, json.Unmarshal(body, &s))
	return s
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e map[string]string
	require.NoError(t, json.Unmarshal(body, &e))
	return e["code"]
}

func TestHealthzAndMetrics(t *testing.T) {
	srv := newTestServer(t, testConfig())

	resp, body := do(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","sessions":0}`, string(body))

	resp, body = do(t, http.MethodGet, srv.URL+"/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "cascade_sessions_active")
}

func TestGetConfig(t *testing.T) {
	srv := newTestServer(t, testConfig())
	resp, body := do(t, http.MethodGet, srv.URL+"/api/cascade/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cfg config.Config
	require.NoError(t, json.Unmarshal(body, &cfg))
	assert.Equal(t, testConfig(), cfg)
}

func TestSessionFlow(t *testing.T) {
	srv := newTestServer(t, testConfig())
	s := createSession(t, srv, "")
	base := srv.URL + "/api/cascade/sessions/" + s.ID
	require.Len(t, s.State.Positions, 2)
	assert.Equal(t, "Make", s.State.Positions[0].Label)
	assert.False(t, s.State.Positions[1].Visible)

	resp, body := do(t, http.MethodGet, base+"/options/0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"position":0,"options":["Audi","Ford"]}`, string(body))

	resp, body = do(t, http.MethodPost, base+"/select", selectRequest{Position: 0, Value: "Ford"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = do(t, http.MethodGet, base+"/options/1?q=FO", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"position":1,"options":["Focus"]}`, string(body))

	resp, body = do(t, http.MethodPost, base+"/select", selectRequest{Position: 1, Value: "Fiesta"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state wire.StateData
	require.NoError(t, json.Unmarshal(body, &state))
	require.NotNil(t, state.Output)
	assert.Equal(t, "2", state.Output.Identifier)
	assert.Equal(t, "FI", state.Output.Result)

	resp, body = do(t, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got sessionResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Fiesta", got.State.Positions[1].Value)

	resp, body = do(t, http.MethodDelete, base+"/selection", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state = wire.StateData{}
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Nil(t, state.Output)
	assert.Equal(t, "", state.Positions[0].Value)

	resp, body = do(t, http.MethodGet, base+"/activity", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var act activityResponse
	require.NoError(t, json.Unmarshal(body, &act))
	// opened, published 1, published 2, cleared
	assert.Equal(t, 4, act.Total)
	assert.Equal(t, event.TypeOutputCleared, act.Entries[0].EventType)

	resp, body = do(t, http.MethodGet, base+"/activity?type=output_published&limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &act))
	assert.Equal(t, 2, act.Total)
	assert.Len(t, act.Entries, 1)
	assert.NotEmpty(t, act.NextCursor)

	resp, _ = do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateSession_SeededAndEmptyBody(t *testing.T) {
	srv := newTestServer(t, testConfig())
	s := createSession(t, srv, "3")
	assert.Equal(t, "Audi", s.State.Positions[0].Value)
	assert.Equal(t, "A4", s.State.Positions[1].Value)
	require.NotNil(t, s.State.Output)
	assert.Equal(t, "3", s.State.Output.Identifier)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/cascade/sessions", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
}

func TestSessionErrors(t *testing.T) {
	srv := newTestServer(t, testConfig())
	s := createSession(t, srv, "")
	base := srv.URL + "/api/cascade/sessions/" + s.ID

	tests := []struct {
		name   string
		method string
		url    string
		body   any
		status int
		code   string
	}{
		{"unknown session", http.MethodGet, srv.URL + "/api/cascade/sessions/nope", nil, http.StatusNotFound, "NOT_FOUND"},
		{"prefix violation", http.MethodPost, base + "/select", selectRequest{Position: 1, Value: "Focus"}, http.StatusConflict, "PREFIX_VIOLATION"},
		{"position out of range", http.MethodPost, base + "/select", selectRequest{Position: 5, Value: "x"}, http.StatusBadRequest, "INVALID_POSITION"},
		{"options out of range", http.MethodGet, base + "/options/2", nil, http.StatusBadRequest, "INVALID_POSITION"},
		{"options not a number", http.MethodGet, base + "/options/x", nil, http.StatusBadRequest, "INVALID_POSITION"},
		{"unknown body field", http.MethodPost, base + "/select", map[string]any{"pos": 0}, http.StatusBadRequest, "INVALID_BODY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, tt.method, tt.url, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(t, body))
		})
	}
}

func TestDisabledControl(t *testing.T) {
	cfg := testConfig()
	cfg.Disabled = true
	srv := newTestServer(t, cfg)
	s := createSession(t, srv, "2")
	base := srv.URL + "/api/cascade/sessions/" + s.ID

	assert.True(t, s.State.Disabled)
	assert.Equal(t, "Ford", s.State.Positions[0].Display)

	resp, body := do(t, http.MethodPost, base+"/select", selectRequest{Position: 0, Value: "Audi"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "DISABLED", errorCode(t, body))

	resp, body = do(t, http.MethodGet, base+"/options/0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"position":0,"options":[]}`, string(body))
}

func TestDataUnavailable(t *testing.T) {
	cfg := testConfig()
	store := activity.NewMemoryStore()
	sessions := session.NewManager(cfg.Settings(), source.NewMemory(nil, source.Query{}),
		event.NewActivityRecorder(store), time.Hour, time.Hour)
	srv := httptest.NewServer(NewRouter(Config{Control: cfg, Sessions: sessions, Activity: store}))
	defer srv.Close()

	s := createSession(t, srv, "")
	assert.True(t, strings.HasPrefix(s.State.Error, cascade.ErrDataUnavailable.Error()))

	resp, body := do(t, http.MethodPost, srv.URL+"/api/cascade/sessions/"+s.ID+"/select", selectRequest{Position: 0, Value: "Ford"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "DATA_UNAVAILABLE", errorCode(t, body))
}
