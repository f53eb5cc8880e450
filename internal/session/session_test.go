package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/cascade/internal/activity"
	"github.com/matthewbaird/cascade/internal/cascade"
	"github.com/matthewbaird/cascade/internal/event"
	"github.com/matthewbaird/cascade/internal/source"
)

func testSettings() cascade.Settings {
	return cascade.Settings{
		Chain:           cascade.FieldChain{"make", "model"},
		IdentifierField: "id",
		PrimaryField:    "name",
		ResultField:     "code",
		EntityType:      "vehicle",
	}
}

func testSource() source.Source {
	return source.NewMemory([]cascade.Record{
		{"id": "1", "make": "Ford", "model": "Focus", "name": "Ford Focus", "code": "FF"},
		{"id": "2", "make": "Ford", "model": "Fiesta", "name": "Ford Fiesta", "code": "FI"},
		{"id": "3", "make": "Audi", "model": "A4", "name": "Audi A4", "code": "A4"},
	}, source.Query{})
}

type failingSource struct{ err error }

func (f failingSource) Fetch(context.Context) ([]cascade.Record, error) { return nil, f.err }

func newTestManager(t *testing.T, src source.Source) (*Manager, *activity.MemoryStore) {
	t.Helper()
	store := activity.NewMemoryStore()
	return NewManager(testSettings(), src, event.NewActivityRecorder(store), time.Hour, time.Hour), store
}

func eventTypes(t *testing.T, store activity.Store, sessionID string) []string {
	t.Helper()
	entries, _, _, err := store.QueryBySession(context.Background(), sessionID, activity.DefaultQueryOptions())
	require.NoError(t, err)
	types := make([]string, len(entries))
	for i, e := range entries {
		types[len(entries)-1-i] = e.EventType
	}
	return types
}

func TestManager_CreateAndSelect(t *testing.T) {
	m, store := newTestManager(t, testSource())
	s := m.Create(context.Background(), "")
	require.NotEmpty(t, s.ID)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	var st cascade.State
	s.Do(func(c *cascade.Controller) {
		require.NoError(t, c.Err())
		_, err = c.Select(0, "Ford")
		require.NoError(t, err)
		st, err = c.Select(1, "Fiesta")
	})
	require.NoError(t, err)
	require.NotNil(t, st.Output)
	assert.Equal(t, "2", st.Output.Identifier)
	assert.Equal(t, "FI", st.Output.Result)

	assert.Equal(t, []string{
		event.TypeSessionOpened,
		event.TypeOutputPublished,
		event.TypeOutputPublished,
	}, eventTypes(t, store, s.ID))
}

func TestManager_CreateSeedsFromIdentity(t *testing.T) {
	m, store := newTestManager(t, testSource())
	s := m.Create(context.Background(), "3")

	s.Do(func(c *cascade.Controller) {
		assert.Equal(t, []string{"Audi", "A4"}, c.State().Selection)
		assert.Equal(t, "3", c.Published().ID)
	})
	assert.Equal(t, []string{event.TypeSessionOpened}, eventTypes(t, store, s.ID))
}

func TestManager_CreateWithFailedFetch(t *testing.T) {
	m, store := newTestManager(t, failingSource{err: errors.New("timeout")})
	s := m.Create(context.Background(), "")

	s.Do(func(c *cascade.Controller) {
		assert.ErrorIs(t, c.Err(), cascade.ErrDataUnavailable)
		assert.Empty(t, c.Options(0))
	})
	assert.Equal(t, []string{event.TypeSessionFailed}, eventTypes(t, store, s.ID))
}

func TestManager_CreateWithEmptyFetch(t *testing.T) {
	m, _ := newTestManager(t, source.NewMemory(nil, source.Query{}))
	s := m.Create(context.Background(), "")
	s.Do(func(c *cascade.Controller) {
		assert.ErrorIs(t, c.Err(), source.ErrNoRecords)
		assert.ErrorIs(t, c.Err(), cascade.ErrDataUnavailable)
	})
}

func TestManager_NilRecorder(t *testing.T) {
	m := NewManager(testSettings(), testSource(), nil, time.Hour, time.Hour)
	s := m.Create(context.Background(), "")
	s.Do(func(c *cascade.Controller) {
		_, err := c.Select(0, "Audi")
		assert.NoError(t, err)
	})
}

func TestManager_GetUnknown(t *testing.T) {
	m, _ := newTestManager(t, testSource())
	_, err := m.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ExpiryAndCleanup(t *testing.T) {
	store := activity.NewMemoryStore()
	m := NewManager(testSettings(), testSource(), event.NewActivityRecorder(store), time.Hour, time.Millisecond)

	a := m.Create(context.Background(), "")
	m.Create(context.Background(), "")
	require.Equal(t, 2, m.Len())

	time.Sleep(5 * time.Millisecond)
	_, err := m.Get(a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, m.Len())

	m.Cleanup()
	assert.Equal(t, 0, m.Len())
}

func TestManager_RunCleanupStopsOnCancel(t *testing.T) {
	m, _ := newTestManager(t, testSource())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunCleanup(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanup did not return")
	}
}
