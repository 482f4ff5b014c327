package subscription

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hadijannat/titan-aas/internal/eventbus"
)

var upgrader = websocket.Upgrader{}

func newTestConn(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	var serverConn *websocket.Conn
	connected := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn = c
		close(connected)
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + server.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	<-connected
	t.Cleanup(func() { serverConn.Close() })
	return serverConn, clientConn
}

func TestDispatchDeliversMatchingEvent(t *testing.T) {
	serverConn, clientConn := newTestConn(t)
	m := NewManager()
	m.Register("sub1", serverConn, nil, "$[?(@.EntityType == 'submodel')]")
	defer m.Unregister("sub1")

	require.NoError(t, m.Dispatch(eventbus.Event{ID: "urn:sm:1", EntityType: "submodel"}))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received eventbus.Event
	require.NoError(t, clientConn.ReadJSON(&received))
	assert.Equal(t, "urn:sm:1", received.ID)
}

func TestDispatchSkipsNonMatchingEvent(t *testing.T) {
	serverConn, clientConn := newTestConn(t)
	m := NewManager()
	m.Register("sub1", serverConn, nil, "$[?(@.EntityType == 'submodel')]")
	defer m.Unregister("sub1")

	require.NoError(t, m.Dispatch(eventbus.Event{ID: "urn:shell:1", EntityType: "shell"}))
	require.NoError(t, m.Dispatch(eventbus.Event{ID: "urn:sm:1", EntityType: "submodel"}))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received eventbus.Event
	require.NoError(t, clientConn.ReadJSON(&received))
	assert.Equal(t, "urn:sm:1", received.ID)
}

func TestEmptyFilterMatchesEverything(t *testing.T) {
	serverConn, clientConn := newTestConn(t)
	m := NewManager()
	m.Register("sub1", serverConn, nil, "")
	defer m.Unregister("sub1")

	require.NoError(t, m.Dispatch(eventbus.Event{ID: "urn:shell:1", EntityType: "shell"}))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received eventbus.Event
	require.NoError(t, clientConn.ReadJSON(&received))
	assert.Equal(t, "urn:shell:1", received.ID)
}

func TestRingEvictsOldestOnOverflow(t *testing.T) {
	r := newRing(2)
	r.push(eventbus.Event{ID: "1"})
	r.push(eventbus.Event{ID: "2"})
	evicted := r.push(eventbus.Event{ID: "3"})
	assert.True(t, evicted)

	first, ok := r.pop()
	require.True(t, ok)
	assert.Equal(t, "2", first.ID)

	second, ok := r.pop()
	require.True(t, ok)
	assert.Equal(t, "3", second.ID)

	_, ok = r.pop()
	assert.False(t, ok)
}

func TestNewManagerHasNoSubscriptions(t *testing.T) {
	m := NewManager()
	assert.Equal(t, 0, m.Count())
}

func TestStructuredFilterMatchesEntityTypeAndEventType(t *testing.T) {
	serverConn, clientConn := newTestConn(t)
	m := NewManager()
	m.Register("sub1", serverConn, &Filter{EntityType: "submodel", EventTypes: []string{"update"}}, "")
	defer m.Unregister("sub1")

	require.NoError(t, m.Dispatch(eventbus.Event{ID: "urn:sm:1", EntityType: "submodel", Operation: "create"}))
	require.NoError(t, m.Dispatch(eventbus.Event{ID: "urn:shell:1", EntityType: "shell", Operation: "update"}))
	require.NoError(t, m.Dispatch(eventbus.Event{ID: "urn:sm:2", EntityType: "submodel", Operation: "update"}))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received eventbus.Event
	require.NoError(t, clientConn.ReadJSON(&received))
	assert.Equal(t, "urn:sm:2", received.ID)
}

func TestStructuredFilterMatchesIdentifier(t *testing.T) {
	serverConn, clientConn := newTestConn(t)
	m := NewManager()
	m.Register("sub1", serverConn, &Filter{Identifier: "urn:sm:2"}, "")
	defer m.Unregister("sub1")

	require.NoError(t, m.Dispatch(eventbus.Event{ID: "urn:sm:1", EntityType: "submodel", Operation: "update"}))
	require.NoError(t, m.Dispatch(eventbus.Event{ID: "urn:sm:2", EntityType: "submodel", Operation: "update"}))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received eventbus.Event
	require.NoError(t, clientConn.ReadJSON(&received))
	assert.Equal(t, "urn:sm:2", received.ID)
}

func TestStructuredAndJSONPathFiltersMustBothMatch(t *testing.T) {
	serverConn, clientConn := newTestConn(t)
	m := NewManager()
	m.Register("sub1", serverConn, &Filter{EntityType: "submodel"}, "$[?(@.Operation == 'delete')]")
	defer m.Unregister("sub1")

	require.NoError(t, m.Dispatch(eventbus.Event{ID: "urn:sm:1", EntityType: "submodel", Operation: "update"}))
	require.NoError(t, m.Dispatch(eventbus.Event{ID: "urn:shell:1", EntityType: "shell", Operation: "delete"}))
	require.NoError(t, m.Dispatch(eventbus.Event{ID: "urn:sm:2", EntityType: "submodel", Operation: "delete"}))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received eventbus.Event
	require.NoError(t, clientConn.ReadJSON(&received))
	assert.Equal(t, "urn:sm:2", received.ID)
}

func TestNilFilterMatchesAnyEvent(t *testing.T) {
	var f *Filter
	assert.True(t, f.Matches(eventbus.Event{EntityType: "shell", Operation: "create"}))
}
