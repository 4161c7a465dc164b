package api

import (
	"net/http"

	"whatsapp-hub/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CRMHandler covers the thin resources backing the inbox UI: tags,
// templates and quick replies.
type CRMHandler struct {
	db *gorm.DB
}

func NewCRMHandler(db *gorm.DB) *CRMHandler {
	return &CRMHandler{db: db}
}

// --- Tags ---

func (h *CRMHandler) ListTags(c *gin.Context) {
	var tags []models.Tag
	if err := h.db.Order("name ASC").Find(&tags).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tags == nil {
		tags = []models.Tag{}
	}
	c.JSON(http.StatusOK, tags)
}

type createTagRequest struct {
	Name  string `json:"name" binding:"required"`
	Color string `json:"color"`
}

func (h *CRMHandler) CreateTag(c *gin.Context) {
	var req createTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tag := models.Tag{ID: uuid.NewString(), Name: req.Name, Color: req.Color}
	if err := h.db.Create(&tag).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, tag)
}

// DeleteTag removes the tag and strips it from every contact that carries
// it, so no contact references a dangling tag id.
func (h *CRMHandler) DeleteTag(c *gin.Context) {
	id := c.Param("id")
	err := h.db.Transaction(func(tx *gorm.DB) error {
		var tagged []models.Contact
		if err := tx.Where("tags LIKE ?", `%"`+id+`"%`).Find(&tagged).Error; err != nil {
			return err
		}
		for i := range tagged {
			kept := make([]string, 0)
			for _, t := range tagged[i].TagList() {
				if t != id {
					kept = append(kept, t)
				}
			}
			tagged[i].SetTags(kept)
			if err := tx.Model(&tagged[i]).Update("tags", tagged[i].Tags).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.Tag{}, "id = ?", id).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// --- Templates ---

func (h *CRMHandler) ListTemplates(c *gin.Context) {
	var templates []models.Template
	if err := h.db.Order("name ASC").Find(&templates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if templates == nil {
		templates = []models.Template{}
	}
	c.JSON(http.StatusOK, templates)
}

type createTemplateRequest struct {
	Name       string `json:"name" binding:"required"`
	Category   string `json:"category"`
	Language   string `json:"language"`
	Components string `json:"components"`
	Status     string `json:"status"`
}

func (h *CRMHandler) CreateTemplate(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Language == "" {
		req.Language = "es"
	}
	tmpl := models.Template{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Category:   req.Category,
		Language:   req.Language,
		Components: req.Components,
		Status:     req.Status,
	}
	if err := h.db.Create(&tmpl).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, tmpl)
}

func (h *CRMHandler) DeleteTemplate(c *gin.Context) {
	if err := h.db.Delete(&models.Template{}, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// --- Quick replies ---

func (h *CRMHandler) ListQuickReplies(c *gin.Context) {
	var replies []models.QuickReply
	if err := h.db.Order("shortcut ASC").Find(&replies).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if replies == nil {
		replies = []models.QuickReply{}
	}
	c.JSON(http.StatusOK, replies)
}

type quickReplyRequest struct {
	Shortcut string `json:"shortcut" binding:"required"`
	Content  string `json:"content" binding:"required"`
}

func (h *CRMHandler) CreateQuickReply(c *gin.Context) {
	var req quickReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	qr := models.QuickReply{ID: uuid.NewString(), Shortcut: req.Shortcut, Content: req.Content}
	if err := h.db.Create(&qr).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, qr)
}

func (h *CRMHandler) DeleteQuickReply(c *gin.Context) {
	if err := h.db.Delete(&models.QuickReply{}, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
