package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"whatsapp-hub/internal/broadcast"
	"whatsapp-hub/internal/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Default inter-message pacing when the request does not set its own.
const (
	defaultDelayMin = 2
	defaultDelayMax = 8
)

// CampaignHandler creates, lists and cancels bulk-send campaigns.
type CampaignHandler struct {
	store    *broadcast.Store
	executor *broadcast.Executor
}

func NewCampaignHandler(store *broadcast.Store, executor *broadcast.Executor) *CampaignHandler {
	return &CampaignHandler{store: store, executor: executor}
}

type createCampaignRequest struct {
	Name          string     `json:"name" binding:"required"`
	TemplateID    string     `json:"template_id" binding:"required"`
	ChannelID     string     `json:"channel_id" binding:"required"`
	TargetTagID   *string    `json:"target_tag_id"`
	ScheduledTime *time.Time `json:"scheduled_time"`
	DelayMin      *int       `json:"delay_min"`
	DelayMax      *int       `json:"delay_max"`
}

// Create stores a campaign. Without a scheduled time dispatch starts
// immediately in the background; with one, the scheduler picks it up when
// it falls due.
func (h *CampaignHandler) Create(c *gin.Context) {
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	campaign := models.Campaign{
		Name:          req.Name,
		TemplateID:    req.TemplateID,
		ChannelID:     req.ChannelID,
		TargetTagID:   req.TargetTagID,
		ScheduledTime: req.ScheduledTime,
		DelayMin:      defaultDelayMin,
		DelayMax:      defaultDelayMax,
	}
	if req.DelayMin != nil {
		campaign.DelayMin = *req.DelayMin
	}
	if req.DelayMax != nil {
		campaign.DelayMax = *req.DelayMax
	}

	recipients, err := h.store.Recipients(campaign.TargetTagID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	campaign.RecipientsCount = len(recipients)

	if err := h.store.Create(&campaign); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if campaign.ScheduledTime == nil {
		if err := h.executor.Launch(context.Background(), campaign.ID); err != nil {
			log.WithField("campaign", campaign.ID).WithError(err).Error("campaign not launched")
		}
	}

	c.JSON(http.StatusCreated, campaign)
}

func (h *CampaignHandler) List(c *gin.Context) {
	campaigns, err := h.store.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	c.JSON(http.StatusOK, campaigns)
}

func (h *CampaignHandler) Get(c *gin.Context) {
	campaign, err := h.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	c.JSON(http.StatusOK, campaign)
}

// Start triggers a scheduled campaign by hand. The executor's claim makes
// this safe to race against the scheduler: whoever loses gets a conflict.
func (h *CampaignHandler) Start(c *gin.Context) {
	campaign, err := h.store.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "campaign not found"})
		return
	}
	if campaign.Status != models.CampaignScheduled {
		c.JSON(http.StatusConflict, gin.H{"error": "campaign is not startable", "status": campaign.Status})
		return
	}

	if err := h.executor.Launch(context.Background(), campaign.ID); err != nil {
		if errors.Is(err, broadcast.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "campaign is already executing"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

// Cancel withdraws a campaign that has not started sending yet.
func (h *CampaignHandler) Cancel(c *gin.Context) {
	campaign, err := h.store.Cancel(c.Param("id"))
	if errors.Is(err, broadcast.ErrInvalidTransition) {
		c.JSON(http.StatusConflict, gin.H{"error": "campaign is no longer cancellable"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, campaign)
}
