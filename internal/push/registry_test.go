package push

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelocator/locator-relay/internal/model"
)

type fakeConn struct {
	mu       sync.Mutex
	messages []string
	types    []int
	writeErr error
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.types = append(c.types, messageType)
	c.messages = append(c.messages, string(data))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error {
	return nil
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

func testMessage(id string) model.CoordinateMessage {
	return model.CoordinateMessage{
		ID:  id,
		Pub: "2017-03-30T05:00:46.167Z",
		Pos: model.Position{Lat: 39.04, Lng: -77.48},
		Acc: 10,
	}
}

func TestRegistry_SendWithoutConnection(t *testing.T) {
	registry := NewRegistry()

	assert.NotPanics(t, func() {
		assert.False(t, registry.Send(testMessage("dev-1")))
	})
	assert.False(t, registry.Active())
}

func TestRegistry_SendWritesJSONTextFrame(t *testing.T) {
	registry := NewRegistry()
	conn := &fakeConn{}
	registry.Register(conn)

	require.True(t, registry.Send(testMessage("dev-1")))

	got := conn.received()
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"id":"dev-1","pub":"2017-03-30T05:00:46.167Z","pos":{"lat":39.04,"lng":-77.48},"acc":10}`, got[0])
	assert.Equal(t, []int{websocket.TextMessage}, conn.types)
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	registry := NewRegistry()
	first := &fakeConn{}
	second := &fakeConn{}

	assert.Equal(t, uint64(1), registry.Register(first))
	assert.Equal(t, uint64(2), registry.Register(second))

	registry.Send(testMessage("dev-1"))
	registry.Send(testMessage("dev-2"))

	assert.Empty(t, first.received())
	assert.Len(t, second.received(), 2)
}

func TestRegistry_Release(t *testing.T) {
	t.Run("releasing the active connection clears the slot", func(t *testing.T) {
		registry := NewRegistry()
		conn := &fakeConn{}
		registry.Register(conn)

		assert.True(t, registry.Release(conn))
		assert.False(t, registry.Active())
		assert.False(t, registry.Send(testMessage("dev-1")))
		assert.Empty(t, conn.received())
	})

	t.Run("releasing a superseded connection keeps the successor", func(t *testing.T) {
		registry := NewRegistry()
		first := &fakeConn{}
		second := &fakeConn{}
		registry.Register(first)
		registry.Register(second)

		assert.False(t, registry.Release(first))
		assert.True(t, registry.Active())
		assert.True(t, registry.Send(testMessage("dev-1")))
		assert.Len(t, second.received(), 1)
	})

	t.Run("releasing with no connection is a no-op", func(t *testing.T) {
		registry := NewRegistry()
		assert.False(t, registry.Release(&fakeConn{}))
	})
}

func TestRegistry_WriteFailureReleases(t *testing.T) {
	registry := NewRegistry()
	conn := &fakeConn{writeErr: errors.New("broken pipe")}
	registry.Register(conn)

	assert.False(t, registry.Send(testMessage("dev-1")))
	assert.False(t, registry.Active())
}

func TestRegistry_ConcurrentRegisterAndSend(t *testing.T) {
	registry := NewRegistry()
	conns := make([]*fakeConn, 10)
	for i := range conns {
		conns[i] = &fakeConn{}
	}

	var wg sync.WaitGroup
	for i := range conns {
		wg.Add(2)
		go func(c *fakeConn) {
			defer wg.Done()
			registry.Register(c)
		}(conns[i])
		go func() {
			defer wg.Done()
			registry.Send(testMessage("dev-1"))
		}()
	}
	wg.Wait()

	total := 0
	for _, c := range conns {
		total += len(c.received())
	}
	assert.LessOrEqual(t, total, 10)
	assert.True(t, registry.Active())
}
