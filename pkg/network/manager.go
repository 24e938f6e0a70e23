package network

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/shadowghost/core/pkg/protocol"
)

// Config assembles a Manager. Peer is required; collaborators and
// tunables are optional.
type Config struct {
	Peer Peer

	FallbackPorts []uint16 // DefaultFallbackPorts when nil
	Timeouts      Timeouts // zero fields take defaults

	MaskingEnabled bool
	MaskDomain     string

	Identity Identity        // signs outbound chat messages when set
	Contacts ContactResolver // display name and address lookups
	Store    ChatStore       // persistence for chat log entries
}

// pendingAck correlates an unacknowledged sent message with its chat
// entry. The timer flips the entry to Failed when the window elapses and
// is cancelled by a matching inbound acknowledgment.
type pendingAck struct {
	chatKey string
	timer   *time.Timer
}

// Manager is the connection and delivery manager. Every shared table has
// its own lock, held only for the in-memory update and never across
// network I/O; the send path takes no global lock.
type Manager struct {
	cfg Config
	bus *EventBus

	chatMu sync.RWMutex
	chats  map[string][]ChatMessage

	pendingMu sync.Mutex
	pending   map[string]*pendingAck

	blockedMu sync.RWMutex
	blocked   map[string]struct{}

	contactMu sync.RWMutex
	contacts  map[string]Contact

	statsMu   sync.Mutex
	stats     Stats
	startedAt time.Time

	runMu      sync.Mutex
	running    bool
	listener   net.Listener
	stopCh     chan struct{}
	acceptDone chan struct{}
}

// NewManager builds a stopped manager around the local peer identity.
func NewManager(cfg Config) *Manager {
	if cfg.FallbackPorts == nil {
		cfg.FallbackPorts = DefaultFallbackPorts
	}
	cfg.Timeouts = cfg.Timeouts.withDefaults()
	return &Manager{
		cfg:      cfg,
		bus:      NewEventBus(),
		chats:    make(map[string][]ChatMessage),
		pending:  make(map[string]*pendingAck),
		blocked:  make(map[string]struct{}),
		contacts: make(map[string]Contact),
	}
}

// Events returns the bus UI and storage collaborators subscribe to.
func (m *Manager) Events() *EventBus { return m.bus }

// LocalPeer returns this node's identity.
func (m *Manager) LocalPeer() Peer { return m.cfg.Peer }

// IsRunning reports whether the listener is accepting connections.
func (m *Manager) IsRunning() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running
}

// StartServer binds the listener and starts the accept loop. Fails when
// already running or when the port cannot be bound.
func (m *Manager) StartServer(port uint16) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("%w: bind port %d: %v", ErrConnectionFailed, port, err)
	}

	m.listener = listener
	m.stopCh = make(chan struct{})
	m.acceptDone = make(chan struct{})
	m.running = true

	m.statsMu.Lock()
	m.startedAt = time.Now()
	m.statsMu.Unlock()

	go m.acceptLoop()

	log.Printf("✅ Server listening on port %d", port)
	m.bus.Emit(Event{Type: EventServerStarted, Port: port})
	return nil
}

// acceptLoop races accepting against the shutdown signal so shutdown is
// observed immediately instead of after the next connection.
func (m *Manager) acceptLoop() {
	defer close(m.acceptDone)

	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.stopCh:
				return
			default:
				log.Printf("Accept error: %v", err)
				return
			}
		}

		go m.handleConnection(conn)
	}
}

// Shutdown stops the accept loop and waits for it up to the shutdown
// bound. Safe to call more than once.
func (m *Manager) Shutdown() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	close(m.stopCh)
	m.listener.Close()

	select {
	case <-m.acceptDone:
	case <-time.After(m.cfg.Timeouts.ShutdownWait):
		log.Printf("⚠️ Accept loop did not drain within %v", m.cfg.Timeouts.ShutdownWait)
	}

	log.Printf("Server stopped")
	m.bus.Emit(Event{Type: EventServerStopped})
	return nil
}

// handleConnection serves one inbound connection until it closes. Each
// connection runs detached so a slow peer cannot stall the accept loop.
func (m *Manager) handleConnection(conn net.Conn) {
	defer conn.Close()

	m.statsMu.Lock()
	m.stats.ConnectedPeers++
	m.stats.TotalConnections++
	m.statsMu.Unlock()
	defer func() {
		m.statsMu.Lock()
		m.stats.ConnectedPeers--
		m.statsMu.Unlock()
	}()

	t, err := m.wrapInbound(conn)
	if err != nil {
		log.Printf("Inbound handshake from %s rejected: %v", conn.RemoteAddr(), err)
		return
	}

	for {
		t.SetReadDeadline(time.Now().Add(m.cfg.Timeouts.HandlerRead))
		data, err := t.Receive()
		if err != nil {
			if err != io.EOF && !errors.Is(err, io.ErrUnexpectedEOF) {
				var netErr net.Error
				if !errors.As(err, &netErr) || !netErr.Timeout() {
					log.Printf("Read error from %s: %v", conn.RemoteAddr(), err)
				}
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Printf("Dropping undecodable message from %s: %v", conn.RemoteAddr(), err)
			return
		}
		if !msg.IsValid() {
			log.Printf("Dropping invalid message from %s", conn.RemoteAddr())
			continue
		}
		if m.IsBlocked(msg.SenderID) {
			continue // silently dropped
		}

		m.recordReceived(len(data))
		m.dispatch(t, msg)
	}
}

// dispatch routes one valid inbound message by its type tag.
func (m *Manager) dispatch(t transport, msg *protocol.ProtocolMessage) {
	switch msg.MessageType {
	case protocol.MsgTypeChat:
		m.handleChat(t, msg)
	case protocol.MsgTypeAcknowledgment:
		m.handleAcknowledgment(msg)
	case protocol.MsgTypePing:
		m.handlePing(t, msg)
	case protocol.MsgTypeHandshake:
		m.handleHandshake(msg)
	default:
		log.Printf("Unknown message type %q from %s", msg.MessageType, msg.SenderID)
	}
}

// handleChat appends the inbound message to the chat log, acknowledges it
// on the same connection and emits a MessageReceived event.
func (m *Manager) handleChat(t transport, msg *protocol.ProtocolMessage) {
	text := msg.TextPayload()
	if text == nil {
		log.Printf("Chat message %s without text payload", msg.MessageID)
		return
	}

	senderName := m.resolveName(msg.SenderID)
	chatID := text.MessageID
	if chatID == "" {
		chatID = msg.MessageID
	}

	chat := ChatMessage{
		ID:             chatID,
		From:           senderName,
		To:             m.cfg.Peer.Name,
		Content:        text.Content,
		MsgType:        ChatText,
		Timestamp:      msg.Timestamp,
		DeliveryStatus: DeliveryDelivered,
	}
	key := ChatKey(senderName, m.cfg.Peer.Name)
	m.appendChat(key, chat)

	if text.MessageID != "" {
		ack := protocol.NewAcknowledgment(m.cfg.Peer.ID, msg.SenderID, text.MessageID)
		if data, err := ack.Encode(); err == nil {
			t.SetWriteDeadline(time.Now().Add(m.cfg.Timeouts.Write))
			if err := t.Send(data); err != nil {
				log.Printf("Failed to acknowledge %s: %v", text.MessageID, err)
			}
		}
	}

	log.Printf("📬 Message from %s", senderName)
	m.bus.Emit(Event{Type: EventMessageReceived, Message: &chat})
}

// handleAcknowledgment resolves the pending entry and flips the matching
// chat entry to Delivered.
func (m *Manager) handleAcknowledgment(msg *protocol.ProtocolMessage) {
	ack := msg.AckPayload()
	if ack == nil || ack.OriginalMessageID == "" {
		return
	}

	m.pendingMu.Lock()
	entry, ok := m.pending[ack.OriginalMessageID]
	if ok {
		entry.timer.Stop()
		delete(m.pending, ack.OriginalMessageID)
	}
	m.pendingMu.Unlock()

	if ok {
		m.setDeliveryStatus(entry.chatKey, ack.OriginalMessageID, DeliveryDelivered)
		log.Printf("✅ Message %s delivered", ack.OriginalMessageID)
	}
}

// handlePing answers with a pong carrying the ping's timestamp.
func (m *Manager) handlePing(t transport, msg *protocol.ProtocolMessage) {
	ping := msg.PingPayload()
	if ping == nil {
		return
	}
	pong := protocol.NewPong(m.cfg.Peer.ID, msg.SenderID, ping)
	data, err := pong.Encode()
	if err != nil {
		return
	}
	t.SetWriteDeadline(time.Now().Add(m.cfg.Timeouts.Write))
	if err := t.Send(data); err != nil {
		log.Printf("Failed to answer ping from %s: %v", msg.SenderID, err)
	}
}

// handleHandshake registers the sender as an online contact.
func (m *Manager) handleHandshake(msg *protocol.ProtocolMessage) {
	hs := msg.HandshakePayload()
	if hs == nil || hs.PeerID == "" {
		return
	}

	contact := Contact{
		ID:         hs.PeerID,
		Name:       hs.PeerName,
		Address:    hs.Address,
		Status:     StatusOnline,
		TrustLevel: TrustPending,
		LastSeen:   time.Now(),
	}

	m.contactMu.Lock()
	if existing, ok := m.contacts[hs.PeerID]; ok {
		contact.TrustLevel = existing.TrustLevel
	}
	m.contacts[hs.PeerID] = contact
	m.contactMu.Unlock()

	log.Printf("🤝 Handshake from %s (%s)", hs.PeerName, hs.PeerID)
	m.bus.Emit(Event{Type: EventContactAdded, Contact: &contact})
}

// resolveName maps a peer id to a display name, falling back to the raw
// id when nobody knows the peer.
func (m *Manager) resolveName(peerID string) string {
	m.contactMu.RLock()
	contact, ok := m.contacts[peerID]
	m.contactMu.RUnlock()
	if ok && contact.Name != "" {
		return contact.Name
	}
	if m.cfg.Contacts != nil {
		if name, ok := m.cfg.Contacts.ResolveName(peerID); ok {
			return name
		}
	}
	return peerID
}

// appendChat adds an entry to the chat log and hands it to the store.
func (m *Manager) appendChat(key string, msg ChatMessage) {
	m.chatMu.Lock()
	m.chats[key] = append(m.chats[key], msg)
	m.chatMu.Unlock()

	if m.cfg.Store != nil {
		if err := m.cfg.Store.Persist(key, msg); err != nil {
			log.Printf("⚠️ Persist failed for %s: %v", msg.ID, err)
		}
	}
}

// setDeliveryStatus updates one chat entry in place and mirrors the
// transition to the store.
func (m *Manager) setDeliveryStatus(key, messageID string, status DeliveryStatus) {
	m.chatMu.Lock()
	found := false
	entries := m.chats[key]
	for i := range entries {
		if entries[i].ID == messageID {
			entries[i].DeliveryStatus = status
			found = true
			break
		}
	}
	m.chatMu.Unlock()

	if found && m.cfg.Store != nil {
		if err := m.cfg.Store.UpdateStatus(messageID, status); err != nil {
			log.Printf("⚠️ Status update failed for %s: %v", messageID, err)
		}
	}
}

// ChatMessages returns a snapshot of the conversation with a contact.
func (m *Manager) ChatMessages(contactName string) []ChatMessage {
	key := ChatKey(m.cfg.Peer.Name, contactName)
	m.chatMu.RLock()
	defer m.chatMu.RUnlock()
	out := make([]ChatMessage, len(m.chats[key]))
	copy(out, m.chats[key])
	return out
}

// Chats returns a snapshot of every conversation keyed by chat key.
func (m *Manager) Chats() map[string][]ChatMessage {
	m.chatMu.RLock()
	defer m.chatMu.RUnlock()
	out := make(map[string][]ChatMessage, len(m.chats))
	for key, entries := range m.chats {
		copied := make([]ChatMessage, len(entries))
		copy(copied, entries)
		out[key] = copied
	}
	return out
}

// AddContact registers or replaces a contact.
func (m *Manager) AddContact(contact Contact) {
	m.contactMu.Lock()
	m.contacts[contact.ID] = contact
	m.contactMu.Unlock()
	m.bus.Emit(Event{Type: EventContactAdded, Contact: &contact})
}

// Contacts returns a snapshot of the known contacts.
func (m *Manager) Contacts() []Contact {
	m.contactMu.RLock()
	defer m.contactMu.RUnlock()
	out := make([]Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		out = append(out, c)
	}
	return out
}

// BlockPeer makes inbound messages from the peer silently dropped.
func (m *Manager) BlockPeer(peerID string) {
	m.blockedMu.Lock()
	m.blocked[peerID] = struct{}{}
	m.blockedMu.Unlock()
}

// UnblockPeer lifts a block.
func (m *Manager) UnblockPeer(peerID string) {
	m.blockedMu.Lock()
	delete(m.blocked, peerID)
	m.blockedMu.Unlock()
}

// IsBlocked reports whether the peer is blocked.
func (m *Manager) IsBlocked(peerID string) bool {
	m.blockedMu.RLock()
	defer m.blockedMu.RUnlock()
	_, ok := m.blocked[peerID]
	return ok
}

// Stats returns a snapshot of the transport counters.
func (m *Manager) Stats() Stats {
	running := m.IsRunning()
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	stats := m.stats
	if running && !m.startedAt.IsZero() {
		stats.UptimeSeconds = uint64(time.Since(m.startedAt) / time.Second)
	}
	return stats
}

// PendingCount returns the number of unacknowledged sent messages.
func (m *Manager) PendingCount() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return len(m.pending)
}

func (m *Manager) recordReceived(bytes int) {
	m.statsMu.Lock()
	m.stats.TotalMessagesReceived++
	m.stats.BytesReceived += uint64(bytes)
	m.statsMu.Unlock()
}

func (m *Manager) recordSent(bytes int) {
	m.statsMu.Lock()
	m.stats.TotalMessagesSent++
	m.stats.BytesSent += uint64(bytes)
	m.stats.TotalConnections++
	m.statsMu.Unlock()
}
