package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shadowghost/core/pkg/network"
)

// StatusResponse describes the node for GET /api/v1/status.
type StatusResponse struct {
	PeerID    string        `json:"peer_id"`
	PeerName  string        `json:"peer_name"`
	Running   bool          `json:"running"`
	Discovery bool          `json:"discovery"`
	Stats     network.Stats `json:"stats"`
	CheckedAt time.Time     `json:"checked_at"`
}

// handleStatus handles GET /api/v1/status
func (s *Server) handleStatus(c *gin.Context) {
	peer := s.manager.LocalPeer()
	c.JSON(http.StatusOK, StatusResponse{
		PeerID:    peer.ID,
		PeerName:  peer.Name,
		Running:   s.manager.IsRunning(),
		Discovery: s.disc != nil && s.disc.IsRunning(),
		Stats:     s.manager.Stats(),
		CheckedAt: time.Now(),
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handlePeers handles GET /api/v1/peers
func (s *Server) handlePeers(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s.manager.Contacts()})
}

// AddContactRequest is the body of POST /api/v1/contacts.
type AddContactRequest struct {
	ID      string `json:"id" binding:"required"`
	Name    string `json:"name" binding:"required"`
	Address string `json:"address" binding:"required"`
}

// handleAddContact handles POST /api/v1/contacts
func (s *Server) handleAddContact(c *gin.Context) {
	var req AddContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	s.manager.AddContact(network.Contact{
		ID:         req.ID,
		Name:       req.Name,
		Address:    req.Address,
		Status:     network.StatusOffline,
		TrustLevel: network.TrustPending,
	})
	c.JSON(http.StatusCreated, SuccessResponse{Success: true, Message: "Contact added"})
}

// handleBlockContact handles POST /api/v1/contacts/:id/block
func (s *Server) handleBlockContact(c *gin.Context) {
	s.manager.BlockPeer(c.Param("id"))
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Contact blocked"})
}

// handleUnblockContact handles DELETE /api/v1/contacts/:id/block
func (s *Server) handleUnblockContact(c *gin.Context) {
	s.manager.UnblockPeer(c.Param("id"))
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Contact unblocked"})
}

// handleChats handles GET /api/v1/chats
func (s *Server) handleChats(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s.manager.Chats()})
}

// handleChatMessages handles GET /api/v1/chats/:contact
func (s *Server) handleChatMessages(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Data:    s.manager.ChatMessages(c.Param("contact")),
	})
}

// SendMessageRequest is the body of POST /api/v1/messages.
type SendMessageRequest struct {
	ContactID string `json:"contact_id" binding:"required"`
	Content   string `json:"content" binding:"required"`
}

// SendMessageResponse reports the outcome of a send.
type SendMessageResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

// handleSendMessage handles POST /api/v1/messages
func (s *Server) handleSendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request",
			Message: err.Error(),
		})
		return
	}

	contact, ok := s.findContact(req.ContactID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "Unknown contact",
			Message: "Add the contact before messaging it",
		})
		return
	}

	messageID, err := s.manager.SendChatMessage(contact, req.Content)
	if err != nil {
		// The failed entry is in the chat log; report the cause.
		c.JSON(http.StatusBadGateway, SendMessageResponse{
			Success:   false,
			MessageID: messageID,
			Error:     err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, SendMessageResponse{Success: true, MessageID: messageID})
}

// handlePingContact handles POST /api/v1/ping/:contact
func (s *Server) handlePingContact(c *gin.Context) {
	contact, ok := s.findContact(c.Param("contact"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Unknown contact"})
		return
	}

	if err := s.manager.CheckContactOnline(contact); err != nil {
		c.JSON(http.StatusOK, gin.H{"online": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"online": true})
}

// findContact looks a contact up by id or name.
func (s *Server) findContact(key string) (network.Contact, bool) {
	for _, contact := range s.manager.Contacts() {
		if contact.ID == key || contact.Name == key {
			return contact, true
		}
	}
	return network.Contact{}, false
}

// handleDiscoveryPeers handles GET /api/v1/discovery/peers
func (s *Server) handleDiscoveryPeers(c *gin.Context) {
	if s.disc == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Discovery disabled"})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s.disc.Peers()})
}

// handleDiscoveryStatistics handles GET /api/v1/discovery/statistics
func (s *Server) handleDiscoveryStatistics(c *gin.Context) {
	if s.disc == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Discovery disabled"})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s.disc.Statistics()})
}

// handleAnnounce handles POST /api/v1/discovery/announce
func (s *Server) handleAnnounce(c *gin.Context) {
	if s.disc == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Discovery disabled"})
		return
	}
	if err := s.disc.AnnouncePresence(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Announce failed",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "Announcement sent"})
}
