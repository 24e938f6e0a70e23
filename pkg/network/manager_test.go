package network

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shadowghost/core/pkg/protocol"
)

func testTimeouts() Timeouts {
	return Timeouts{
		Connect:      2 * time.Second,
		Write:        time.Second,
		AckRead:      300 * time.Millisecond,
		AckWindow:    400 * time.Millisecond,
		HandlerRead:  2 * time.Second,
		ShutdownWait: time.Second,
	}
}

func newTestManager(name string) *Manager {
	return NewManager(Config{
		Peer:          Peer{ID: name + "-id", Name: name, Address: "127.0.0.1"},
		Timeouts:      testTimeouts(),
		FallbackPorts: []uint16{}, // individual tests opt in to fallback
	})
}

func freePort(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return uint16(port)
}

// startServer runs the manager's listener on a free port and returns the
// address clients should dial.
func startServer(t *testing.T, m *Manager) string {
	t.Helper()
	port := freePort(t)
	require.NoError(t, m.StartServer(port))
	t.Cleanup(func() { m.Shutdown() })
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func TestChatKeyCanonical(t *testing.T) {
	assert.Equal(t, "alice_bob", ChatKey("alice", "bob"))
	assert.Equal(t, "alice_bob", ChatKey("bob", "alice"))
	assert.Equal(t, "alice_bob", ChatKey("Bob", "Alice"))
	assert.Equal(t, "alice_alice", ChatKey("alice", "alice"))
}

func TestStartServerTwiceFails(t *testing.T) {
	m := newTestManager("bob")
	port := freePort(t)
	require.NoError(t, m.StartServer(port))
	defer m.Shutdown()

	assert.ErrorIs(t, m.StartServer(port), ErrAlreadyRunning)
}

func TestShutdownIdempotent(t *testing.T) {
	m := newTestManager("bob")
	require.NoError(t, m.StartServer(freePort(t)))
	assert.True(t, m.IsRunning())

	require.NoError(t, m.Shutdown())
	assert.False(t, m.IsRunning())
	require.NoError(t, m.Shutdown())
}

// dialPlain opens a raw framed client connection to addr.
func dialPlain(t *testing.T, addr string) plainConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return plainConn{conn}
}

func TestInboundChatIsAcknowledgedAndLogged(t *testing.T) {
	m := newTestManager("bob")
	addr := startServer(t, m)

	events, cancel := m.Events().Subscribe()
	defer cancel()

	client := dialPlain(t, addr)
	chat := protocol.NewTextMessage("alice-id", "bob-id", "hello bob", "chat-1")
	data, err := chat.Encode()
	require.NoError(t, err)
	require.NoError(t, client.Send(data))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := client.Receive()
	require.NoError(t, err, "sender must get a synchronous acknowledgment")

	ackMsg, err := protocol.Decode(resp)
	require.NoError(t, err)
	require.Equal(t, protocol.MsgTypeAcknowledgment, ackMsg.MessageType)
	assert.Equal(t, "chat-1", ackMsg.AckPayload().OriginalMessageID)

	// Sender is unknown, so the raw id is the display name.
	require.Eventually(t, func() bool {
		return len(m.ChatMessages("alice-id")) == 1
	}, 2*time.Second, 20*time.Millisecond)

	entry := m.ChatMessages("alice-id")[0]
	assert.Equal(t, "hello bob", entry.Content)
	assert.Equal(t, DeliveryDelivered, entry.DeliveryStatus)
	assert.Equal(t, "alice-id", entry.From)

	select {
	case ev := <-events:
		assert.Equal(t, EventMessageReceived, ev.Type)
		require.NotNil(t, ev.Message)
		assert.Equal(t, "hello bob", ev.Message.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no MessageReceived event")
	}
}

func TestInboundPingGetsPong(t *testing.T) {
	m := newTestManager("bob")
	addr := startServer(t, m)

	client := dialPlain(t, addr)
	ping := protocol.NewPing("alice-id", "bob-id", 7)
	data, err := ping.Encode()
	require.NoError(t, err)
	require.NoError(t, client.Send(data))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := client.Receive()
	require.NoError(t, err)

	pong, err := protocol.Decode(resp)
	require.NoError(t, err)
	require.Equal(t, protocol.MsgTypePong, pong.MessageType)
	pp := pong.PongPayload()
	require.NotNil(t, pp)
	assert.Equal(t, ping.PingPayload().Timestamp, pp.OriginalTimestamp)
	assert.Equal(t, uint64(7), pp.Sequence)
}

func TestInboundHandshakeRegistersContact(t *testing.T) {
	m := newTestManager("bob")
	addr := startServer(t, m)

	events, cancel := m.Events().Subscribe()
	defer cancel()

	client := dialPlain(t, addr)
	hs := protocol.NewHandshake("alice-id", "bob-id", "Alice", "10.0.0.4:9000", []byte{1})
	data, err := hs.Encode()
	require.NoError(t, err)
	require.NoError(t, client.Send(data))

	require.Eventually(t, func() bool {
		for _, c := range m.Contacts() {
			if c.ID == "alice-id" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	contacts := m.Contacts()
	require.Len(t, contacts, 1)
	assert.Equal(t, "Alice", contacts[0].Name)
	assert.Equal(t, StatusOnline, contacts[0].Status)

	for {
		select {
		case ev := <-events:
			if ev.Type != EventContactAdded {
				continue
			}
			require.NotNil(t, ev.Contact)
			assert.Equal(t, "alice-id", ev.Contact.ID)
			return
		case <-time.After(2 * time.Second):
			t.Fatal("no ContactAdded event")
		}
	}
}

func TestBlockedSenderIsSilentlyDropped(t *testing.T) {
	m := newTestManager("bob")
	m.BlockPeer("evil-id")
	addr := startServer(t, m)

	client := dialPlain(t, addr)
	chat := protocol.NewTextMessage("evil-id", "bob-id", "spam", "chat-x")
	data, err := chat.Encode()
	require.NoError(t, err)
	require.NoError(t, client.Send(data))

	client.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, err = client.Receive()
	assert.Error(t, err, "blocked sender must not be acknowledged")
	assert.Empty(t, m.ChatMessages("evil-id"))
}

func TestInvalidMessageIsRejectedBeforeDispatch(t *testing.T) {
	m := newTestManager("bob")
	addr := startServer(t, m)

	client := dialPlain(t, addr)
	chat := protocol.NewTextMessage("", "bob-id", "anonymous", "chat-y")
	data, err := chat.Encode()
	require.NoError(t, err)
	require.NoError(t, client.Send(data))

	client.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, err = client.Receive()
	assert.Error(t, err, "invalid message must not be acknowledged")
	assert.Empty(t, m.Chats())
}

func TestStatsTracksConnectedPeers(t *testing.T) {
	m := newTestManager("bob")
	addr := startServer(t, m)

	assert.Equal(t, uint32(0), m.Stats().ConnectedPeers)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.Stats().ConnectedPeers == 1
	}, 2*time.Second, 20*time.Millisecond, "open connection not counted")
	assert.Equal(t, uint32(1), m.Stats().TotalConnections)

	conn.Close()
	require.Eventually(t, func() bool {
		return m.Stats().ConnectedPeers == 0
	}, 2*time.Second, 20*time.Millisecond, "closed connection still counted")
}

func TestEventBusNonBlockingEmit(t *testing.T) {
	bus := NewEventBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	// Overflow the subscriber buffer; Emit must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Emit(Event{Type: EventError})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
	assert.NotEmpty(t, ch)

	cancel()
	assert.Equal(t, 0, bus.SubscriberCount())
}
