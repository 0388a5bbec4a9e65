package hub

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metaui/internal/protocol"
)

type replayFrames [][]byte

func (r replayFrames) Replay(attach func([][]byte)) { attach(r) }

func TestBroadcastDisconnectsSlowClient(t *testing.T) {
	h := New(Config{}, replayFrames{[]byte("create")}, nil, nil)
	slow := &client{id: "slow"}
	h.attach(slow, []byte("ack"))
	fast := &client{id: "fast"}
	h.attach(fast, []byte("ack"))
	require.Equal(t, 2, h.Len())

	capacity := cap(slow.out)
	sent := 0
	for i := 0; i < capacity+20; i++ {
		// fast keeps up
		for len(fast.out) > 0 {
			<-fast.out
		}
		n := h.Broadcast([]byte(fmt.Sprintf("update-%d", i)))
		if n == 2 {
			sent++
		}
	}

	assert.Equal(t, capacity-2, sent, "slow client accepted frames until its buffer filled")
	assert.True(t, slow.lagging.Load())
	assert.False(t, fast.lagging.Load())
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, "fast", h.Clients()[0].ClientID)

	var got []string
	for f := range slow.out {
		got = append(got, string(f))
	}
	require.Len(t, got, capacity)
	assert.Equal(t, "ack", got[0], "head of the stream is never dropped")
	assert.Equal(t, "create", got[1])
	assert.Equal(t, "update-0", got[2])

	h.detach(slow)
	assert.Equal(t, 1, h.Len(), "detaching a dropped client leaves others registered")
}

func TestLaggingClientIsClosedForReplay(t *testing.T) {
	h := New(Config{}, nil, nil, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.WriteJSON(protocol.Hello{Type: protocol.FrameHello, ClientID: "lag"}))

	var ack protocol.HelloAck
	require.NoError(t, c.ReadJSON(&ack))
	require.Equal(t, "lag", ack.ClientID)

	h.mu.Lock()
	registered := h.clients["lag"]
	h.mu.Unlock()
	require.NotNil(t, registered)

	// Drop the client the way an overflowing Broadcast does.
	h.mu.Lock()
	registered.lagging.Store(true)
	delete(h.clients, "lag")
	close(registered.out)
	h.mu.Unlock()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, CloseLagging, ce.Code)
		break
	}
}
