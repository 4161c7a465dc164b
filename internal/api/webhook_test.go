package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"whatsapp-hub/internal/database"
	"whatsapp-hub/internal/events"
	"whatsapp-hub/internal/ingest"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/signature"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Init("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	return db
}

func newWebhookRouter(t *testing.T, db *gorm.DB, verifyToken, defaultSecret string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ingestor := ingest.NewService(db, events.Nop{}, nil, t.TempDir())
	verifier := signature.NewVerifier(ChannelSecrets(db), defaultSecret)
	h := NewWebhookHandler(verifyToken, verifier, ingestor)

	r := gin.New()
	r.GET("/webhook", h.Verify)
	r.POST("/webhook", h.Receive)
	return r
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func inboundPayload(phoneNumberID, msgID, from, text string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"messaging_product": "whatsapp",
					"metadata": {"display_phone_number": "5491100000000", "phone_number_id": %q},
					"contacts": [{"wa_id": %q, "profile": {"name": "Ana"}}],
					"messages": [{"from": %q, "id": %q, "timestamp": "1700000000", "type": "text", "text": {"body": %q}}]
				}
			}]
		}]
	}`, phoneNumberID, from, from, msgID, text))
}

func TestVerifyHandshake(t *testing.T) {
	db := newTestDB(t)
	r := newWebhookRouter(t, db, "verify-me", "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345", w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestReceive_SignedPayloadIngested(t *testing.T) {
	db := newTestDB(t)
	secret := "channel-secret"
	require.NoError(t, db.Create(&models.Channel{
		ID:        uuid.NewString(),
		Name:      "main",
		PhoneID:   "phone-1",
		AppSecret: secret,
	}).Error)

	r := newWebhookRouter(t, db, "verify-me", "")

	body := inboundPayload("phone-1", "wamid.1", "5492645280229", "hola")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign(secret, body))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "EVENT_RECEIVED", w.Body.String())

	var msg models.Message
	require.NoError(t, db.First(&msg, "id = ?", "wamid.1").Error)
	assert.Equal(t, "hola", msg.Body)

	var contact models.Contact
	require.NoError(t, db.First(&contact, "phone = ?", "5492645280229").Error)
	assert.Equal(t, "Ana", contact.Name)
}

func TestReceive_BadSignatureWritesNothing(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&models.Channel{
		ID:        uuid.NewString(),
		Name:      "main",
		PhoneID:   "phone-1",
		AppSecret: "channel-secret",
	}).Error)

	r := newWebhookRouter(t, db, "verify-me", "")
	body := inboundPayload("phone-1", "wamid.2", "5492645280229", "hola")

	for name, header := range map[string]string{
		"missing":      "",
		"malformed":    "sha256=zz-not-hex",
		"wrong secret": sign("other-secret", body),
		"tampered":     sign("channel-secret", append([]byte(nil), append(body, ' ')...)),
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
		if header != "" {
			req.Header.Set("X-Hub-Signature-256", header)
		}
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
	}

	var messages, contacts int64
	db.Model(&models.Message{}).Count(&messages)
	db.Model(&models.Contact{}).Count(&contacts)
	assert.Zero(t, messages, "rejected requests must not persist messages")
	assert.Zero(t, contacts, "rejected requests must not persist contacts")
}

func TestReceive_UnknownChannelRejectedEvenWithGlobalSecret(t *testing.T) {
	db := newTestDB(t)
	r := newWebhookRouter(t, db, "verify-me", "global-secret")

	// Payload names a channel nothing is configured for; the global secret
	// must not be used as a fallback.
	body := inboundPayload("phone-unknown", "wamid.3", "5492645280229", "hola")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sign("global-secret", body))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
