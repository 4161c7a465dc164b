package api

import (
	"encoding/json"
	"net/http"

	"whatsapp-hub/internal/ingest"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/signature"
	"whatsapp-hub/internal/whatsapp"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WebhookHandler terminates the provider's webhook: the GET verification
// handshake and the signed POST event stream.
type WebhookHandler struct {
	verifyToken string
	verifier    *signature.Verifier
	ingestor    *ingest.Service
}

func NewWebhookHandler(verifyToken string, verifier *signature.Verifier, ingestor *ingest.Service) *WebhookHandler {
	return &WebhookHandler{verifyToken: verifyToken, verifier: verifier, ingestor: ingestor}
}

// ChannelSecrets is a signature.SecretSource backed by the channels table.
func ChannelSecrets(db *gorm.DB) signature.SecretSource {
	return func(phoneID string) (string, bool) {
		var ch models.Channel
		if err := db.First(&ch, "phone_id = ?", phoneID).Error; err != nil {
			return "", false
		}
		return ch.AppSecret, ch.AppSecret != ""
	}
}

// Verify answers the provider's subscription handshake by echoing the
// challenge when the verify token matches.
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		c.String(http.StatusOK, challenge)
		return
	}
	c.AbortWithStatus(http.StatusForbidden)
}

// Receive validates the payload signature against the raw request bytes and
// only then fans the events out to ingestion. A failed check means zero
// database writes for the request.
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var payload whatsapp.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	header := c.GetHeader("X-Hub-Signature-256")
	if err := h.verifier.Verify(body, header, payload.PhoneNumberID()); err != nil {
		log.WithError(err).Warn("webhook signature rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	h.dispatch(c, payload)

	// The provider retries anything but a 200, so processing errors are
	// logged rather than surfaced.
	c.String(http.StatusOK, "EVENT_RECEIVED")
}

func (h *WebhookHandler) dispatch(c *gin.Context, payload whatsapp.WebhookPayload) {
	ctx := c.Request.Context()

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			value := change.Value

			if change.Field == "account_update" && value.Event != "" {
				if err := h.ingestor.HandleAccountUpdate(ctx, value.Metadata.PhoneNumberID, value.Event); err != nil {
					log.WithError(err).Error("account update not applied")
				}
				continue
			}

			for _, msg := range value.Messages {
				sender := matchSender(value.Contacts, msg.From)
				if err := h.ingestor.HandleInbound(ctx, msg, sender, value.Metadata); err != nil {
					log.WithField("message", msg.ID).WithError(err).Error("inbound message not ingested")
				}
			}
			for _, st := range value.Statuses {
				if err := h.ingestor.HandleStatus(ctx, st); err != nil {
					log.WithField("message", st.ID).WithError(err).Error("status update not applied")
				}
			}
		}
	}
}

// matchSender pairs a message with its profile block by wa_id, falling back
// to the first profile when the ids do not line up.
func matchSender(contacts []whatsapp.InboundContact, from string) *whatsapp.InboundContact {
	for i := range contacts {
		if contacts[i].WaID == from {
			return &contacts[i]
		}
	}
	if len(contacts) > 0 {
		return &contacts[0]
	}
	return nil
}
