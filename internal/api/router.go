package api

import (
	"whatsapp-hub/internal/broadcast"
	"whatsapp-hub/internal/config"
	"whatsapp-hub/internal/ingest"
	"whatsapp-hub/internal/signature"
	"whatsapp-hub/internal/whatsapp"
	"whatsapp-hub/internal/ws"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps bundles everything the HTTP surface is built from.
type Deps struct {
	Config   *config.Config
	DB       *gorm.DB
	Hub      *ws.Hub
	Gateway  *whatsapp.Gateway
	Ingestor *ingest.Service
	Store    *broadcast.Store
	Executor *broadcast.Executor
}

// NewRouter assembles the full route table: the provider webhook, the
// dashboard API and the realtime socket.
func NewRouter(d Deps) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware())

	verifier := signature.NewVerifier(ChannelSecrets(d.DB), d.Config.AppSecret)
	webhookHandler := NewWebhookHandler(d.Config.VerifyToken, verifier, d.Ingestor)
	messageHandler := NewMessageHandler(d.DB, d.Gateway, d.Hub, d.Config.MediaDir)
	contactHandler := NewContactHandler(d.DB, d.Hub)
	channelHandler := NewChannelHandler(d.DB, d.Gateway)
	campaignHandler := NewCampaignHandler(d.Store, d.Executor)
	crmHandler := NewCRMHandler(d.DB)

	r.GET("/webhook", webhookHandler.Verify)
	r.POST("/webhook", webhookHandler.Receive)

	r.GET("/ws", func(c *gin.Context) {
		d.Hub.ServeWs(c.Writer, c.Request)
	})

	r.Static("/uploads/media", d.Config.MediaDir)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/contacts", contactHandler.List)
		apiGroup.POST("/contacts", contactHandler.Create)
		apiGroup.PUT("/contacts/:id", contactHandler.Update)
		apiGroup.DELETE("/contacts/:id", contactHandler.Delete)
		apiGroup.GET("/contacts/:id/messages", messageHandler.History)

		apiGroup.POST("/messages", messageHandler.SendText)
		apiGroup.POST("/messages/media", messageHandler.SendMedia)

		apiGroup.GET("/channels", channelHandler.List)
		apiGroup.POST("/channels", channelHandler.Create)
		apiGroup.POST("/channels/:id/test", channelHandler.Test)
		apiGroup.DELETE("/channels/:id", channelHandler.Delete)

		apiGroup.GET("/campaigns", campaignHandler.List)
		apiGroup.POST("/campaigns", campaignHandler.Create)
		apiGroup.GET("/campaigns/:id", campaignHandler.Get)
		apiGroup.POST("/campaigns/:id/start", campaignHandler.Start)
		apiGroup.POST("/campaigns/:id/cancel", campaignHandler.Cancel)

		apiGroup.GET("/tags", crmHandler.ListTags)
		apiGroup.POST("/tags", crmHandler.CreateTag)
		apiGroup.DELETE("/tags/:id", crmHandler.DeleteTag)

		apiGroup.GET("/templates", crmHandler.ListTemplates)
		apiGroup.POST("/templates", crmHandler.CreateTemplate)
		apiGroup.DELETE("/templates/:id", crmHandler.DeleteTemplate)

		apiGroup.GET("/quick-replies", crmHandler.ListQuickReplies)
		apiGroup.POST("/quick-replies", crmHandler.CreateQuickReply)
		apiGroup.DELETE("/quick-replies/:id", crmHandler.DeleteQuickReply)
	}

	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
