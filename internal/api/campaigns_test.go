package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"whatsapp-hub/internal/broadcast"
	"whatsapp-hub/internal/events"
	"whatsapp-hub/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubSender struct {
	block chan struct{} // when set, sends wait here
}

func (s *stubSender) SendTemplate(ctx context.Context, channelID, to, name, language string, params []string) (string, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "wamid.stub." + uuid.NewString(), nil
}

func newCampaignRouter(t *testing.T, db *gorm.DB, sender broadcast.TemplateSender) (*gin.Engine, *broadcast.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := broadcast.NewStore(db)
	exec := broadcast.NewExecutor(db, store, sender, events.Nop{})
	h := NewCampaignHandler(store, exec)

	r := gin.New()
	r.POST("/api/campaigns", h.Create)
	r.POST("/api/campaigns/:id/start", h.Start)
	r.POST("/api/campaigns/:id/cancel", h.Cancel)
	return r, store
}

func seedStartableCampaign(t *testing.T, db *gorm.DB, store *broadcast.Store) *models.Campaign {
	t.Helper()
	tmpl := models.Template{ID: uuid.NewString(), Name: "promo_invierno", Language: "es"}
	require.NoError(t, db.Create(&tmpl).Error)
	require.NoError(t, db.Create(&models.Contact{
		ID:    uuid.NewString(),
		Phone: "5492645280229",
		Name:  "Ana",
		Tags:  "[]",
	}).Error)

	future := time.Now().Add(time.Hour)
	campaign := &models.Campaign{
		Name:          "manual",
		TemplateID:    tmpl.ID,
		ChannelID:     "ch1",
		ScheduledTime: &future,
	}
	require.NoError(t, store.Create(campaign))
	return campaign
}

func TestStartCampaign_RunsToCompletion(t *testing.T) {
	db := newTestDB(t)
	r, store := newCampaignRouter(t, db, &stubSender{})
	campaign := seedStartableCampaign(t, db, store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/campaigns/"+campaign.ID+"/start", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		c, err := store.Get(campaign.ID)
		return err == nil && c.Status == models.CampaignSent
	}, 2*time.Second, 10*time.Millisecond)

	final, err := store.Get(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, final.SentCount)

	// A finished campaign is not startable again.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/campaigns/"+campaign.ID+"/start", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStartCampaign_ConcurrentStartConflicts(t *testing.T) {
	db := newTestDB(t)
	release := make(chan struct{})
	r, store := newCampaignRouter(t, db, &stubSender{block: release})
	campaign := seedStartableCampaign(t, db, store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/campaigns/"+campaign.ID+"/start", nil))
	require.Equal(t, http.StatusAccepted, w.Code)

	// The first start holds the claim; a second trigger loses regardless
	// of whether the run reached SENDING yet.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/campaigns/"+campaign.ID+"/start", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	close(release)
	require.Eventually(t, func() bool {
		c, err := store.Get(campaign.ID)
		return err == nil && c.Status == models.CampaignSent
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartCampaign_UnknownID(t *testing.T) {
	db := newTestDB(t)
	r, _ := newCampaignRouter(t, db, &stubSender{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/campaigns/nope/start", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelCampaign_OnlyWhileScheduled(t *testing.T) {
	db := newTestDB(t)
	r, store := newCampaignRouter(t, db, &stubSender{})
	campaign := seedStartableCampaign(t, db, store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/campaigns/"+campaign.ID+"/cancel", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	c, err := store.Get(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignCancelled, c.Status)

	// Cancelled is terminal; neither cancel nor start applies again.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/campaigns/"+campaign.ID+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/campaigns/"+campaign.ID+"/start", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}