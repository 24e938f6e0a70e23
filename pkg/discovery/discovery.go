// Package discovery finds peers on the local network by broadcasting
// UDP announcements and listening for the announcements of others.
package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"syscall"
	"time"
)

// DefaultPort is the UDP port announcements are exchanged on.
const DefaultPort = 9999

// DefaultAnnounceInterval is how often presence is re-broadcast.
const DefaultAnnounceInterval = 30 * time.Second

// readPollInterval bounds how long the listener blocks before it
// re-checks the stop signal.
const readPollInterval = 1 * time.Second

var (
	ErrAlreadyRunning = errors.New("discovery: already running")
	ErrNotRunning     = errors.New("discovery: not running")
)

// AnnouncementMessage is the JSON datagram a peer broadcasts to make
// itself known on the LAN.
type AnnouncementMessage struct {
	PeerID          string   `json:"peer_id"`
	PeerName        string   `json:"peer_name"`
	Port            uint16   `json:"port"`
	PublicKey       []byte   `json:"public_key"`
	ProtocolVersion uint8    `json:"protocol_version"`
	Capabilities    []string `json:"capabilities"`
	Timestamp       uint64   `json:"timestamp"`
}

// DiscoveredPeer is one LAN peer known from its announcements.
type DiscoveredPeer struct {
	ID              string   `json:"id"`
	Address         string   `json:"address"`
	Port            uint16   `json:"port"`
	Name            string   `json:"name"`
	LastSeen        uint64   `json:"last_seen"`
	PublicKey       []byte   `json:"public_key"`
	ProtocolVersion uint8    `json:"protocol_version"`
	Capabilities    []string `json:"capabilities"`
}

// Statistics summarizes the state of the peer table.
type Statistics struct {
	TotalDiscovered    int       `json:"total_discovered"`
	ActivePeers        int       `json:"active_peers"`
	UniqueCapabilities int       `json:"unique_capabilities"`
	LastDiscovery      time.Time `json:"last_discovery"`
}

// Config carries the identity announced to the LAN and the tunables.
type Config struct {
	PeerID    string
	PeerName  string
	LocalPort uint16 // TCP port peers should connect back to
	PublicKey []byte

	DiscoveryPort    uint16        // UDP port, DefaultPort when zero
	AnnounceInterval time.Duration // DefaultAnnounceInterval when zero
}

// Discovery broadcasts this node's presence and tracks peers seen on the
// LAN. Stale entries are only removed when the owner calls CleanupOldPeers.
type Discovery struct {
	cfg Config

	mu      sync.RWMutex
	peers   map[string]DiscoveredPeer
	running bool

	listener  *net.UDPConn
	announcer *net.UDPConn
	stop      chan struct{}
	wg        sync.WaitGroup
}

// New builds a stopped Discovery. Zero tunables take defaults.
func New(cfg Config) *Discovery {
	if cfg.DiscoveryPort == 0 {
		cfg.DiscoveryPort = DefaultPort
	}
	if cfg.AnnounceInterval == 0 {
		cfg.AnnounceInterval = DefaultAnnounceInterval
	}
	return &Discovery{
		cfg:   cfg,
		peers: make(map[string]DiscoveredPeer),
	}
}

// Start binds the announcement listener and the broadcast sender and
// spawns the listener and announcer goroutines. Starting a running
// instance is an error.
func (d *Discovery) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrAlreadyRunning
	}

	listener, err := net.ListenUDP("udp4", &net.UDPAddr{Port: int(d.cfg.DiscoveryPort)})
	if err != nil {
		return fmt.Errorf("bind discovery listener: %w", err)
	}

	announcer, err := broadcastSocket()
	if err != nil {
		listener.Close()
		return fmt.Errorf("bind announcement socket: %w", err)
	}

	d.listener = listener
	d.announcer = announcer
	d.stop = make(chan struct{})
	d.running = true

	d.wg.Add(2)
	go d.listenLoop()
	go d.announceLoop()

	log.Printf("🔍 Discovery started on UDP port %d", d.cfg.DiscoveryPort)
	return nil
}

// Stop signals both goroutines, closes the sockets and clears the peer
// table. Stopping a stopped instance is a no-op.
func (d *Discovery) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stop)
	d.listener.Close()
	d.announcer.Close()
	d.mu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	d.peers = make(map[string]DiscoveredPeer)
	d.mu.Unlock()

	log.Printf("Discovery stopped")
}

// IsRunning reports whether the goroutines are active.
func (d *Discovery) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// broadcastSocket binds an ephemeral UDP socket with SO_BROADCAST set so
// datagrams can be sent to broadcast addresses.
func broadcastSocket() (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, err
	}
	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err == nil {
		err = sockErr
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// listenLoop polls the listener with short read deadlines so the stop
// signal is observed within a second.
func (d *Discovery) listenLoop() {
	defer d.wg.Done()
	buf := make([]byte, 2048)

	for {
		select {
		case <-d.stop:
			return
		default:
		}

		d.listener.SetReadDeadline(time.Now().Add(readPollInterval))
		n, addr, err := d.listener.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-d.stop:
				return
			default:
				log.Printf("⚠️ Discovery receive error: %v", err)
				continue
			}
		}

		var ann AnnouncementMessage
		if err := json.Unmarshal(buf[:n], &ann); err != nil {
			continue // not an announcement
		}
		if ann.PeerID == "" || ann.PeerID == d.cfg.PeerID {
			continue
		}
		d.upsertPeer(ann, addr.IP)
	}
}

// upsertPeer records or refreshes a peer keyed by its id.
func (d *Discovery) upsertPeer(ann AnnouncementMessage, from net.IP) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers[ann.PeerID] = DiscoveredPeer{
		ID:              ann.PeerID,
		Address:         from.String(),
		Port:            ann.Port,
		Name:            ann.PeerName,
		LastSeen:        ann.Timestamp,
		PublicKey:       ann.PublicKey,
		ProtocolVersion: ann.ProtocolVersion,
		Capabilities:    ann.Capabilities,
	}
}

// announceLoop broadcasts presence immediately and then on every tick.
func (d *Discovery) announceLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.AnnounceInterval)
	defer ticker.Stop()

	d.broadcast()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.broadcast()
		}
	}
}

// announcement builds the datagram describing this node.
func (d *Discovery) announcement() AnnouncementMessage {
	return AnnouncementMessage{
		PeerID:          d.cfg.PeerID,
		PeerName:        d.cfg.PeerName,
		Port:            d.cfg.LocalPort,
		PublicKey:       d.cfg.PublicKey,
		ProtocolVersion: 1,
		Capabilities:    []string{"chat", "file_transfer"},
		Timestamp:       uint64(time.Now().Unix()),
	}
}

// broadcast sends the announcement to the limited broadcast address plus
// the common private subnet broadcast addresses. Per-address send errors
// are expected on hosts without those subnets and are ignored.
func (d *Discovery) broadcast() {
	data, err := json.Marshal(d.announcement())
	if err != nil {
		return
	}

	targets := []string{
		"255.255.255.255",
		"224.0.0.1",
		"192.168.1.255",
		"10.0.0.255",
		"172.16.255.255",
	}
	for _, target := range targets {
		addr := &net.UDPAddr{IP: net.ParseIP(target), Port: int(d.cfg.DiscoveryPort)}
		d.announcer.WriteToUDP(data, addr)
	}
}

// AnnouncePresence sends a single announcement outside the 30 s cadence.
func (d *Discovery) AnnouncePresence() error {
	d.mu.RLock()
	announcer := d.announcer
	running := d.running
	d.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}

	data, err := json.Marshal(d.announcement())
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}
	addr := &net.UDPAddr{IP: net.IPv4bcast, Port: int(d.cfg.DiscoveryPort)}
	if _, err := announcer.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("send announcement: %w", err)
	}
	return nil
}

// Peers returns a snapshot of all known peers.
func (d *Discovery) Peers() []DiscoveredPeer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	peers := make([]DiscoveredPeer, 0, len(d.peers))
	for _, p := range d.peers {
		peers = append(peers, p)
	}
	return peers
}

// PeerCount returns the number of known peers.
func (d *Discovery) PeerCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// FindPeerByName returns the first peer with the given display name.
func (d *Discovery) FindPeerByName(name string) (DiscoveredPeer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.peers {
		if p.Name == name {
			return p, true
		}
	}
	return DiscoveredPeer{}, false
}

// FindPeerByID returns the peer with the given id.
func (d *Discovery) FindPeerByID(id string) (DiscoveredPeer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[id]
	return p, ok
}

// PeersByCapability returns all peers advertising the capability.
func (d *Discovery) PeersByCapability(capability string) []DiscoveredPeer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []DiscoveredPeer
	for _, p := range d.peers {
		for _, c := range p.Capabilities {
			if c == capability {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// CleanupOldPeers removes peers not seen for maxAge or longer. Aging is
// the owner's policy; nothing expires automatically.
func (d *Discovery) CleanupOldPeers(maxAge time.Duration) int {
	now := uint64(time.Now().Unix())
	maxAgeSecs := uint64(maxAge / time.Second)

	d.mu.Lock()
	defer d.mu.Unlock()
	removed := 0
	for id, p := range d.peers {
		if now-p.LastSeen >= maxAgeSecs {
			delete(d.peers, id)
			removed++
		}
	}
	return removed
}

// Statistics reports table totals. A peer is active when seen within the
// last five minutes.
func (d *Discovery) Statistics() Statistics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	now := uint64(time.Now().Unix())
	active := 0
	caps := make(map[string]struct{})
	for _, p := range d.peers {
		if now-p.LastSeen < 300 {
			active++
		}
		for _, c := range p.Capabilities {
			caps[c] = struct{}{}
		}
	}
	return Statistics{
		TotalDiscovered:    len(d.peers),
		ActivePeers:        active,
		UniqueCapabilities: len(caps),
		LastDiscovery:      time.Now(),
	}
}
