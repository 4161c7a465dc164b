package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"whatsapp-hub/internal/events"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MessageHandler serves conversation history and outbound sends.
type MessageHandler struct {
	db       *gorm.DB
	gateway  *whatsapp.Gateway
	bus      events.Bus
	mediaDir string
}

func NewMessageHandler(db *gorm.DB, gateway *whatsapp.Gateway, bus events.Bus, mediaDir string) *MessageHandler {
	return &MessageHandler{db: db, gateway: gateway, bus: bus, mediaDir: mediaDir}
}

// History returns a contact's messages oldest-first and marks the
// conversation read.
func (h *MessageHandler) History(c *gin.Context) {
	contactID := c.Param("id")

	var contact models.Contact
	if err := h.db.First(&contact, "id = ?", contactID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
		return
	}

	var messages []models.Message
	if err := h.db.Where("contact_id = ?", contactID).Order("timestamp ASC").Find(&messages).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	if contact.UnreadCount != 0 {
		contact.UnreadCount = 0
		if err := h.db.Model(&contact).Update("unread_count", 0).Error; err == nil {
			h.bus.Publish(events.ContactUpdated, &contact)
		}
	}

	c.JSON(http.StatusOK, messages)
}

type sendTextRequest struct {
	ContactID string `json:"contact_id" binding:"required"`
	ChannelID string `json:"channel_id" binding:"required"`
	Body      string `json:"body" binding:"required"`
}

// SendText dispatches a plain text message on a channel. A provider
// failure still leaves a FAILED message row so the conversation shows the
// attempt.
func (h *MessageHandler) SendText(c *gin.Context) {
	var req sendTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var contact models.Contact
	if err := h.db.First(&contact, "id = ?", req.ContactID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
		return
	}

	providerID, sendErr := h.gateway.SendText(c.Request.Context(), req.ChannelID, contact.Phone, req.Body)

	m := models.Message{
		ID:        providerID,
		Direction: models.DirectionOutbound,
		Type:      "text",
		Body:      req.Body,
		Status:    models.StatusSent,
		Timestamp: time.Now(),
		ContactID: contact.ID,
		ChannelID: &req.ChannelID,
	}
	if sendErr != nil {
		m.ID = "failed_" + uuid.NewString()
		m.Status = models.StatusFailed
		m.Error = sendErr.Error()
	}
	if err := h.db.Create(&m).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.bus.Publish(events.NewMessage, &m)

	if sendErr != nil {
		log.WithField("contact", contact.ID).WithError(sendErr).Warn("outbound text failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": sendErr.Error(), "message": m})
		return
	}

	h.db.Model(&contact).Update("last_active", time.Now())
	c.JSON(http.StatusCreated, m)
}

// SendMedia uploads a file to the provider, sends it, and keeps a local
// copy so the conversation can render it without another provider
// round-trip.
func (h *MessageHandler) SendMedia(c *gin.Context) {
	contactID := c.PostForm("contact_id")
	channelID := c.PostForm("channel_id")
	mediaType := c.PostForm("type")
	caption := c.PostForm("caption")
	if contactID == "" || channelID == "" || mediaType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "contact_id, channel_id and type are required"})
		return
	}

	var contact models.Contact
	if err := h.db.First(&contact, "id = ?", contactID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	mediaID, err := h.gateway.UploadMedia(c.Request.Context(), channelID, data, mimeType, fileHeader.Filename)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	providerID, sendErr := h.gateway.SendMediaByID(c.Request.Context(), channelID, contact.Phone, mediaType, mediaID, caption)

	body := caption
	if body == "" {
		body = "[" + mediaType + "]"
	}
	m := models.Message{
		ID:        providerID,
		Direction: models.DirectionOutbound,
		Type:      mediaType,
		Body:      body,
		Status:    models.StatusSent,
		Timestamp: time.Now(),
		ContactID: contact.ID,
		ChannelID: &channelID,
	}
	if sendErr != nil {
		m.ID = "failed_" + uuid.NewString()
		m.Status = models.StatusFailed
		m.Error = sendErr.Error()
	} else if ref := h.storeLocalCopy(data, fileHeader.Filename); ref != "" {
		m.MediaURL = &ref
	}

	if err := h.db.Create(&m).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.bus.Publish(events.NewMessage, &m)

	if sendErr != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": sendErr.Error(), "message": m})
		return
	}
	h.db.Model(&contact).Update("last_active", time.Now())
	c.JSON(http.StatusCreated, m)
}

// storeLocalCopy is best-effort; a write failure only costs the preview.
func (h *MessageHandler) storeLocalCopy(data []byte, filename string) string {
	if err := os.MkdirAll(h.mediaDir, 0o755); err != nil {
		log.WithError(err).Warn("media dir not writable")
		return ""
	}
	name := uuid.NewString() + filepath.Ext(filename)
	if err := os.WriteFile(filepath.Join(h.mediaDir, name), data, 0o644); err != nil {
		log.WithError(err).Warn("media copy not stored")
		return ""
	}
	return "/uploads/media/" + name
}
