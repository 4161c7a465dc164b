package api

import (
	"net/http"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ChannelHandler manages provider sending identities.
type ChannelHandler struct {
	db      *gorm.DB
	gateway *whatsapp.Gateway
}

func NewChannelHandler(db *gorm.DB, gateway *whatsapp.Gateway) *ChannelHandler {
	return &ChannelHandler{db: db, gateway: gateway}
}

func (h *ChannelHandler) List(c *gin.Context) {
	var channels []models.Channel
	if err := h.db.Order("created_at ASC").Find(&channels).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if channels == nil {
		channels = []models.Channel{}
	}
	c.JSON(http.StatusOK, channels)
}

type createChannelRequest struct {
	Name        string `json:"name" binding:"required"`
	PhoneNumber string `json:"phone_number"`
	PhoneID     string `json:"phone_id" binding:"required"`
	WabaID      string `json:"waba_id"`
	AccessToken string `json:"access_token" binding:"required"`
	AppSecret   string `json:"app_secret"`
}

// Create registers a channel after checking the credential pair against
// the provider. A pair the provider rejects is never stored.
func (h *ChannelHandler) Create(c *gin.Context) {
	var req createChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	displayNumber, err := h.gateway.VerifyCredentials(c.Request.Context(), req.PhoneID, req.AccessToken)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "credential check failed: " + err.Error()})
		return
	}
	if req.PhoneNumber == "" {
		req.PhoneNumber = displayNumber
	}

	ch := models.Channel{
		ID:          uuid.NewString(),
		Name:        req.Name,
		PhoneNumber: req.PhoneNumber,
		PhoneID:     req.PhoneID,
		WabaID:      req.WabaID,
		AccessToken: req.AccessToken,
		AppSecret:   req.AppSecret,
		Status:      models.ChannelConnected,
	}
	if err := h.db.Create(&ch).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	log.WithFields(log.Fields{"channel": ch.Name, "phone_id": ch.PhoneID}).Info("channel registered")
	c.JSON(http.StatusCreated, ch)
}

// Test re-checks a stored channel's credentials and records the result in
// its status.
func (h *ChannelHandler) Test(c *gin.Context) {
	var ch models.Channel
	if err := h.db.First(&ch, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}

	status := models.ChannelConnected
	_, err := h.gateway.VerifyCredentials(c.Request.Context(), ch.PhoneID, ch.AccessToken)
	if err != nil {
		status = models.ChannelDisconnected
	}
	if dbErr := h.db.Model(&ch).Update("status", status).Error; dbErr != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": dbErr.Error()})
		return
	}

	if err != nil {
		c.JSON(http.StatusOK, gin.H{"status": status, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (h *ChannelHandler) Delete(c *gin.Context) {
	if err := h.db.Delete(&models.Channel{}, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
