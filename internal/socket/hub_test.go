package socket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"proximity-service/internal/logging"
)

func dialRoom(t *testing.T, hub *Hub, room string) *websocket.Conn {
	t.Helper()
	joined := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Join(room, conn)
		close(joined)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatal("server never joined the room")
	}
	return client
}

func TestHub_BroadcastReachesRoomOnly(t *testing.T) {
	hub := NewHub(logging.Discard())
	alice := dialRoom(t, hub, Room(7))
	bob := dialRoom(t, hub, Room(8))

	sent, err := hub.Broadcast(Room(7), map[string]string{"type": "Boundary"})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := alice.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Boundary"}`, string(msg))

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, _, err = bob.ReadMessage()
	assert.Error(t, err)
}

func TestHub_EmptyRoom(t *testing.T) {
	hub := NewHub(logging.Discard())
	sent, err := hub.Broadcast(Room(99), "hello")
	assert.NoError(t, err)
	assert.Zero(t, sent)
}

func TestHub_LeaveDropsRoom(t *testing.T) {
	hub := NewHub(logging.Discard())
	dialRoom(t, hub, Room(7))
	assert.Equal(t, 1, hub.Connections())

	hub.mutex.Lock()
	var conn *websocket.Conn
	for c := range hub.rooms[Room(7)] {
		conn = c
	}
	hub.mutex.Unlock()

	hub.Leave(Room(7), conn)
	assert.Zero(t, hub.Connections())
}

func TestHub_SlowWriteDoesNotBlockOtherRooms(t *testing.T) {
	hub := NewHub(logging.Discard())
	alice := dialRoom(t, hub, Room(7))
	bob := dialRoom(t, hub, Room(8))

	// Hold alice's writer as if a write to her were stuck on the network.
	hub.mutex.Lock()
	var stuck *client
	for _, c := range hub.rooms[Room(7)] {
		stuck = c
	}
	hub.mutex.Unlock()
	stuck.mu.Lock()

	done := make(chan int, 1)
	go func() {
		sent, _ := hub.Broadcast(Room(7), "to alice")
		done <- sent
	}()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		assert.Equal(t, 2, hub.Connections())
		sent, err := hub.Broadcast(Room(8), "to bob")
		assert.NoError(t, err)
		assert.Equal(t, 1, sent)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("hub stayed locked during a pending write")
	}

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := bob.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `"to bob"`, string(msg))

	stuck.mu.Unlock()
	select {
	case sent := <-done:
		assert.Equal(t, 1, sent)
	case <-time.After(time.Second):
		t.Fatal("broadcast to alice never finished")
	}
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err = alice.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `"to alice"`, string(msg))
}

func TestHub_ConcurrentBroadcastsToOneRoom(t *testing.T) {
	hub := NewHub(logging.Discard())
	alice := dialRoom(t, hub, Room(7))

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := hub.Broadcast(Room(7), i)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(time.Second)))
	for i := 0; i < n; i++ {
		_, _, err := alice.ReadMessage()
		require.NoError(t, err)
	}
	assert.Equal(t, 1, hub.Connections())
}

func TestRoom(t *testing.T) {
	assert.Equal(t, "user-42", Room(42))
}
