package network

import (
	"errors"
	"fmt"
	"log"
	"net"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/shadowghost/core/pkg/protocol"
)

// SendChatMessage delivers content to the contact, trying its configured
// address first and then the fallback ports on the same host. The chat
// entry starts Pending and ends Delivered (synchronous acknowledgment),
// Sent (accepted, acknowledgment outstanding) or Failed. The returned id
// identifies the chat entry; the error is non-nil only when every
// attempt failed.
func (m *Manager) SendChatMessage(contact Contact, content string) (string, error) {
	chatID := uuid.NewString()
	key := ChatKey(m.cfg.Peer.Name, contact.Name)

	m.appendChat(key, ChatMessage{
		ID:             chatID,
		From:           m.cfg.Peer.Name,
		To:             contact.Name,
		Content:        content,
		MsgType:        ChatText,
		Timestamp:      protocol.NowUnix(),
		DeliveryStatus: DeliveryPending,
	})

	wire := protocol.NewTextMessage(m.cfg.Peer.ID, contact.ID, content, chatID)
	if m.cfg.Identity != nil {
		if err := wire.Sign(m.cfg.Identity); err != nil {
			log.Printf("⚠️ Signing failed for %s: %v", chatID, err)
		}
	}
	data, err := wire.Encode()
	if err != nil {
		m.setDeliveryStatus(key, chatID, DeliveryFailed)
		return chatID, err
	}

	var lastErr error
	for _, addr := range m.deliveryAddresses(contact.Address) {
		acked, err := m.trySend(addr, data, chatID)
		if err != nil {
			lastErr = err
			continue
		}

		m.recordSent(len(data))
		if acked {
			m.setDeliveryStatus(key, chatID, DeliveryDelivered)
			log.Printf("✅ Delivered %s to %s via %s", chatID, contact.Name, addr)
		} else {
			m.setDeliveryStatus(key, chatID, DeliverySent)
			m.registerPending(chatID, key)
			log.Printf("Sent %s to %s via %s, awaiting acknowledgment", chatID, contact.Name, addr)
		}
		return chatID, nil
	}

	// Every address and fallback port failed.
	m.setDeliveryStatus(key, chatID, DeliveryFailed)
	sendErr := classifySendError(lastErr)
	m.bus.Emit(Event{
		Type:    EventError,
		Error:   sendErr.Error(),
		Context: fmt.Sprintf("send to %s (%s)", contact.Name, contact.Address),
	})
	return chatID, sendErr
}

// deliveryAddresses expands the contact's address into the ordered
// attempt list: the configured port first, then each fallback port on
// the same host.
func (m *Manager) deliveryAddresses(address string) []string {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		// No port in the address; fallback ports are the whole plan.
		host = address
		port = ""
	}

	addrs := make([]string, 0, len(m.cfg.FallbackPorts)+1)
	if port != "" {
		addrs = append(addrs, net.JoinHostPort(host, port))
	}
	for _, fp := range m.cfg.FallbackPorts {
		candidate := net.JoinHostPort(host, fmt.Sprintf("%d", fp))
		if candidate != address && fmt.Sprintf("%d", fp) != port {
			addrs = append(addrs, candidate)
		}
	}
	return addrs
}

// trySend performs one delivery attempt: dial, write, then wait briefly
// for a synchronous acknowledgment on the same connection. A write that
// succeeds without an acknowledgment is not an error; the caller
// registers the message as pending.
func (m *Manager) trySend(addr string, data []byte, wantAckFor string) (acked bool, err error) {
	conn, err := net.DialTimeout("tcp", addr, m.cfg.Timeouts.Connect)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	t, err := m.wrapOutbound(conn)
	if err != nil {
		return false, err
	}

	t.SetWriteDeadline(time.Now().Add(m.cfg.Timeouts.Write))
	if err := t.Send(data); err != nil {
		return false, err
	}

	if wantAckFor == "" {
		return false, nil
	}

	t.SetReadDeadline(time.Now().Add(m.cfg.Timeouts.AckRead))
	resp, err := t.Receive()
	if err != nil {
		return false, nil // accepted, acknowledgment outstanding
	}
	msg, err := protocol.Decode(resp)
	if err != nil {
		return false, nil
	}
	ack := msg.AckPayload()
	return ack != nil && ack.OriginalMessageID == wantAckFor, nil
}

// registerPending records the sent message and schedules the failure
// flip. A matching acknowledgment cancels the timer deterministically,
// so exactly one of the two outcomes happens.
func (m *Manager) registerPending(messageID, chatKey string) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	entry := &pendingAck{chatKey: chatKey}
	entry.timer = time.AfterFunc(m.cfg.Timeouts.AckWindow, func() {
		m.expirePending(messageID)
	})
	m.pending[messageID] = entry
}

// expirePending marks a still-unacknowledged message Failed.
func (m *Manager) expirePending(messageID string) {
	m.pendingMu.Lock()
	entry, ok := m.pending[messageID]
	if ok {
		delete(m.pending, messageID)
	}
	m.pendingMu.Unlock()
	if !ok {
		return // acknowledged in the meantime
	}

	m.setDeliveryStatus(entry.chatKey, messageID, DeliveryFailed)
	log.Printf("⚠️ No acknowledgment for %s within %v", messageID, m.cfg.Timeouts.AckWindow)
}

// CheckContactOnline pings the contact over the same dial-with-fallback
// path. Chat state is not touched.
func (m *Manager) CheckContactOnline(contact Contact) error {
	ping := protocol.NewPing(m.cfg.Peer.ID, contact.ID, 0)
	data, err := ping.Encode()
	if err != nil {
		return err
	}

	var lastErr error
	for _, addr := range m.deliveryAddresses(contact.Address) {
		if _, err := m.trySend(addr, data, ""); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return classifySendError(lastErr)
}

// classifySendError maps a raw dial or write failure onto the error
// taxonomy callers branch on.
func classifySendError(err error) error {
	if err == nil {
		return ErrConnectionFailed
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: connection refused, recipient may not be online", ErrConnectionFailed)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
}
