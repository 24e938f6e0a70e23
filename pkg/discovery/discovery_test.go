package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPeer(d *Discovery, id, name string, lastSeen uint64, caps ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[id] = DiscoveredPeer{
		ID:           id,
		Address:      "192.168.1.50",
		Port:         8080,
		Name:         name,
		LastSeen:     lastSeen,
		Capabilities: caps,
	}
}

func TestPeerQueries(t *testing.T) {
	d := New(Config{PeerID: "self", PeerName: "Self"})
	now := uint64(time.Now().Unix())

	seedPeer(d, "peer-a", "Alice", now, "chat", "file_transfer")
	seedPeer(d, "peer-b", "Bob", now, "chat")

	assert.Equal(t, 2, d.PeerCount())

	byName, ok := d.FindPeerByName("Alice")
	require.True(t, ok)
	assert.Equal(t, "peer-a", byName.ID)

	_, ok = d.FindPeerByName("Carol")
	assert.False(t, ok)

	byID, ok := d.FindPeerByID("peer-b")
	require.True(t, ok)
	assert.Equal(t, "Bob", byID.Name)

	chatters := d.PeersByCapability("chat")
	assert.Len(t, chatters, 2)
	movers := d.PeersByCapability("file_transfer")
	require.Len(t, movers, 1)
	assert.Equal(t, "peer-a", movers[0].ID)
}

func TestCleanupOldPeersBoundary(t *testing.T) {
	d := New(Config{PeerID: "self"})
	now := uint64(time.Now().Unix())

	seedPeer(d, "stale", "Stale", now-400)
	seedPeer(d, "fresh", "Fresh", now-10)

	removed := d.CleanupOldPeers(300 * time.Second)
	assert.Equal(t, 1, removed)
	_, ok := d.FindPeerByID("stale")
	assert.False(t, ok, "peer 400s old must be removed at maxAge 300s")
	_, ok = d.FindPeerByID("fresh")
	assert.True(t, ok)

	seedPeer(d, "stale", "Stale", now-400)
	removed = d.CleanupOldPeers(500 * time.Second)
	assert.Equal(t, 0, removed, "peer 400s old must survive maxAge 500s")
	_, ok = d.FindPeerByID("stale")
	assert.True(t, ok)
}

func TestStatistics(t *testing.T) {
	d := New(Config{PeerID: "self"})
	now := uint64(time.Now().Unix())

	seedPeer(d, "active", "Active", now-10, "chat", "file_transfer")
	seedPeer(d, "idle", "Idle", now-600, "chat")

	stats := d.Statistics()
	assert.Equal(t, 2, stats.TotalDiscovered)
	assert.Equal(t, 1, stats.ActivePeers)
	assert.Equal(t, 2, stats.UniqueCapabilities)
}

func freeUDPPort(t *testing.T) uint16 {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()
	return uint16(port)
}

func TestLifecycle(t *testing.T) {
	d := New(Config{
		PeerID:        "self",
		PeerName:      "Self",
		LocalPort:     8080,
		DiscoveryPort: freeUDPPort(t),
	})

	assert.False(t, d.IsRunning())
	require.NoError(t, d.Start())
	assert.True(t, d.IsRunning())
	assert.ErrorIs(t, d.Start(), ErrAlreadyRunning)

	d.Stop()
	assert.False(t, d.IsRunning())
	assert.Equal(t, 0, d.PeerCount(), "stop must clear the peer table")
	d.Stop() // second stop is a no-op

	// A stopped instance can be started again.
	require.NoError(t, d.Start())
	d.Stop()
}

func TestListenerRecordsAnnouncements(t *testing.T) {
	port := freeUDPPort(t)
	d := New(Config{
		PeerID:        "self",
		PeerName:      "Self",
		LocalPort:     8080,
		DiscoveryPort: port,
	})
	require.NoError(t, d.Start())
	defer d.Stop()

	send := func(ann AnnouncementMessage) {
		data, err := json.Marshal(ann)
		require.NoError(t, err)
		conn, err := net.Dial("udp4", fmt.Sprintf("127.0.0.1:%d", port))
		require.NoError(t, err)
		defer conn.Close()
		_, err = conn.Write(data)
		require.NoError(t, err)
	}

	send(AnnouncementMessage{
		PeerID:          "peer-a",
		PeerName:        "Alice",
		Port:            9000,
		ProtocolVersion: 1,
		Capabilities:    []string{"chat"},
		Timestamp:       uint64(time.Now().Unix()),
	})
	// Own announcements must be ignored.
	send(AnnouncementMessage{PeerID: "self", PeerName: "Self", Timestamp: uint64(time.Now().Unix())})

	require.Eventually(t, func() bool {
		_, ok := d.FindPeerByID("peer-a")
		return ok
	}, 3*time.Second, 50*time.Millisecond, "announcement not recorded")

	peer, _ := d.FindPeerByID("peer-a")
	assert.Equal(t, "Alice", peer.Name)
	assert.Equal(t, uint16(9000), peer.Port)
	assert.Equal(t, "127.0.0.1", peer.Address)

	_, ok := d.FindPeerByID("self")
	assert.False(t, ok, "node must not discover itself")
}

func TestProbeBlockedPorts(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	openPort := uint16(l.Addr().(*net.TCPAddr).Port)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	// A bound-then-released port refuses connections.
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadPort := uint16(dead.Addr().(*net.TCPAddr).Port)
	dead.Close()

	blocked := probeBlockedPorts(context.Background(), "127.0.0.1", []uint16{openPort, deadPort})
	assert.Equal(t, []uint16{deadPort}, blocked, "only the unreachable port is blocked")
}

func TestParseIPEchoResponse(t *testing.T) {
	tests := []struct {
		name    string
		service string
		body    string
		want    string
		wantErr bool
	}{
		{"plain text", "https://api.ipify.org", "203.0.113.9", "203.0.113.9", false},
		{"padded text", "https://ipinfo.io/ip", "  203.0.113.9\n", "203.0.113.9", false},
		{"httpbin json", "https://httpbin.org/ip", `{"origin":"203.0.113.9"}`, "203.0.113.9", false},
		{"httpbin proxied", "https://httpbin.org/ip", `{"origin":"203.0.113.9, 10.0.0.1"}`, "203.0.113.9", false},
		{"garbage", "https://api.ipify.org", "<html>error</html>", "", true},
		{"httpbin garbage", "https://httpbin.org/ip", "not json", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, err := parseIPEchoResponse(tt.service, []byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ip.String())
		})
	}
}
