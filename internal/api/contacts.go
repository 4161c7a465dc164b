package api

import (
	"net/http"

	"whatsapp-hub/internal/events"
	"whatsapp-hub/internal/ingest"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/phone"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ContactHandler struct {
	db  *gorm.DB
	bus events.Bus
}

func NewContactHandler(db *gorm.DB, bus events.Bus) *ContactHandler {
	return &ContactHandler{db: db, bus: bus}
}

// List returns contacts most-recently-active first.
func (h *ContactHandler) List(c *gin.Context) {
	var contacts []models.Contact
	if err := h.db.Order("last_active DESC").Find(&contacts).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if contacts == nil {
		contacts = []models.Contact{}
	}
	c.JSON(http.StatusOK, contacts)
}

type createContactRequest struct {
	Phone string `json:"phone" binding:"required"`
	Name  string `json:"name"`
}

// Create registers a contact by phone. The number is canonicalized first,
// so re-adding an existing contact under a variant spelling resolves to
// the same row instead of creating a duplicate.
func (h *ContactHandler) Create(c *gin.Context) {
	var req createContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if phone.Canonicalize(req.Phone) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "phone has no digits"})
		return
	}

	var contact *models.Contact
	err := h.db.Transaction(func(tx *gorm.DB) error {
		var err error
		contact, err = ingest.ResolveContact(tx, req.Phone, req.Name)
		return err
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.bus.Publish(events.ContactUpdated, contact)
	c.JSON(http.StatusCreated, contact)
}

type updateContactRequest struct {
	Name         *string   `json:"name"`
	Notes        *string   `json:"notes"`
	Email        *string   `json:"email"`
	Birthday     *string   `json:"birthday"`
	Company      *string   `json:"company"`
	CustomFields *string   `json:"custom_fields"`
	Tags         *[]string `json:"tags"`
}

// Update patches profile and CRM fields. Absent fields are untouched.
func (h *ContactHandler) Update(c *gin.Context) {
	var contact models.Contact
	if err := h.db.First(&contact, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "contact not found"})
		return
	}

	var req updateContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name != nil {
		contact.Name = *req.Name
	}
	if req.Notes != nil {
		contact.Notes = *req.Notes
	}
	if req.Email != nil {
		contact.Email = *req.Email
	}
	if req.Birthday != nil {
		contact.Birthday = *req.Birthday
	}
	if req.Company != nil {
		contact.Company = *req.Company
	}
	if req.CustomFields != nil {
		contact.CustomFields = *req.CustomFields
	}
	if req.Tags != nil {
		contact.SetTags(*req.Tags)
	}

	if err := h.db.Save(&contact).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.bus.Publish(events.ContactUpdated, &contact)
	c.JSON(http.StatusOK, contact)
}

// Delete removes a contact together with its conversation.
func (h *ContactHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("contact_id = ?", id).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Contact{}, "id = ?", id).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
