package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"whatsapp-hub/internal/database"
	"whatsapp-hub/internal/events"
	"whatsapp-hub/internal/models"

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

type fakeGateway struct {
	mu      sync.Mutex
	sentTo  []string
	failFor map[string]error
	blockOn chan struct{} // when set, every send waits here
}

func (f *fakeGateway) SendTemplate(ctx context.Context, channelID, to, name, language string, params []string) (string, error) {
	if f.blockOn != nil {
		select {
		case <-f.blockOn:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[to]; ok {
		return "", err
	}
	f.sentTo = append(f.sentTo, to)
	return "wamid.out." + uuid.NewString(), nil
}

type progressBus struct {
	mu      sync.Mutex
	updates []map[string]any
}

func (b *progressBus) Publish(event string, data any) {
	if event != events.CampaignProgress {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, data.(map[string]any))
}

func seedContact(t *testing.T, db *gorm.DB, phone string, tags ...string) models.Contact {
	t.Helper()
	c := models.Contact{ID: uuid.NewString(), Phone: phone, Name: phone}
	c.SetTags(tags)
	require.NoError(t, db.Create(&c).Error)
	return c
}

func seedTemplate(t *testing.T, db *gorm.DB) models.Template {
	t.Helper()
	tmpl := models.Template{ID: uuid.NewString(), Name: "promo_invierno", Language: "es", Status: "APPROVED"}
	require.NoError(t, db.Create(&tmpl).Error)
	return tmpl
}

func seedCampaign(t *testing.T, store *Store, templateID string, targetTag *string) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		Name:        "test campaign",
		TemplateID:  templateID,
		ChannelID:   "ch1",
		TargetTagID: targetTag,
		DelayMin:    0,
		DelayMax:    0,
	}
	require.NoError(t, store.Create(c))
	return c
}

func TestExecute_PartialFailureAccounting(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	tmpl := seedTemplate(t, db)

	vip := "VIP"
	seedContact(t, db, "5492645280221", vip)
	second := seedContact(t, db, "5492645280222", vip)
	seedContact(t, db, "5492645280223", vip)
	seedContact(t, db, "5492645280224") // untagged, outside the segment

	gw := &fakeGateway{failFor: map[string]error{second.Phone: errors.New("rate limited")}}
	bus := &progressBus{}
	exec := NewExecutor(db, store, gw, bus)

	campaign := seedCampaign(t, store, tmpl.ID, &vip)
	require.NoError(t, exec.Execute(context.Background(), campaign.ID))

	final, err := store.Get(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignSent, final.Status, "one failure does not fail the campaign")
	assert.Equal(t, 3, final.RecipientsCount)
	assert.Equal(t, 2, final.SentCount)
	assert.Equal(t, 1, final.FailedCount)
	assert.Equal(t, 100, final.Progress)

	// The failed recipient stays visible with its reason.
	var failedMsg models.Message
	require.NoError(t, db.First(&failedMsg, "status = ?", models.StatusFailed).Error)
	assert.Contains(t, failedMsg.Error, "rate limited")
	assert.Equal(t, second.ID, failedMsg.ContactID)
}

func TestExecute_ProgressMonotonicAndCountsConsistent(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	tmpl := seedTemplate(t, db)
	for i := 0; i < 5; i++ {
		seedContact(t, db, "549264528022"+string(rune('0'+i)))
	}

	bus := &progressBus{}
	exec := NewExecutor(db, store, &fakeGateway{}, bus)
	campaign := seedCampaign(t, store, tmpl.ID, nil)

	require.NoError(t, exec.Execute(context.Background(), campaign.ID))

	require.NotEmpty(t, bus.updates)
	last := -1
	for _, u := range bus.updates {
		progress := u["progress"].(int)
		assert.GreaterOrEqual(t, progress, last, "progress never decreases")
		last = progress

		sent := u["sent_count"].(int)
		failed := u["failed_count"].(int)
		total := u["total"].(int)
		assert.Equal(t, 5, total)
		assert.LessOrEqual(t, sent+failed, total)
	}
	assert.Equal(t, 100, last)
}

func TestExecute_AllRecipientsFailedMeansFailed(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	tmpl := seedTemplate(t, db)
	a := seedContact(t, db, "5492645280221")
	b := seedContact(t, db, "5492645280222")

	gw := &fakeGateway{failFor: map[string]error{
		a.Phone: errors.New("boom"),
		b.Phone: errors.New("boom"),
	}}
	exec := NewExecutor(db, store, gw, events.Nop{})
	campaign := seedCampaign(t, store, tmpl.ID, nil)

	require.NoError(t, exec.Execute(context.Background(), campaign.ID))

	final, err := store.Get(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignFailed, final.Status)
	assert.Equal(t, 2, final.FailedCount)
	assert.Equal(t, 0, final.SentCount)
	assert.Equal(t, 100, final.Progress)
}

func TestExecute_MissingTemplateFailsCampaign(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	seedContact(t, db, "5492645280221")

	exec := NewExecutor(db, store, &fakeGateway{}, events.Nop{})
	campaign := seedCampaign(t, store, "no-such-template", nil)

	err := exec.Execute(context.Background(), campaign.ID)
	assert.ErrorIs(t, err, ErrTemplateNotFound)

	final, storeErr := store.Get(campaign.ID)
	require.NoError(t, storeErr)
	assert.Equal(t, models.CampaignFailed, final.Status)
}

func TestExecute_ConcurrentRunRejected(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	tmpl := seedTemplate(t, db)
	seedContact(t, db, "5492645280221")

	release := make(chan struct{})
	gw := &fakeGateway{blockOn: release}
	exec := NewExecutor(db, store, gw, events.Nop{})
	campaign := seedCampaign(t, store, tmpl.ID, nil)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- exec.Execute(context.Background(), campaign.ID)
	}()

	// Wait until the first run has claimed the campaign.
	require.Eventually(t, func() bool {
		c, err := store.Get(campaign.ID)
		return err == nil && c.Status == models.CampaignSending
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, exec.Execute(context.Background(), campaign.ID), ErrAlreadyRunning)

	close(release)
	require.NoError(t, <-firstDone)
}

func TestLaunch_LosingClaimRejectedImmediately(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	tmpl := seedTemplate(t, db)
	seedContact(t, db, "5492645280221")

	release := make(chan struct{})
	gw := &fakeGateway{blockOn: release}
	exec := NewExecutor(db, store, gw, events.Nop{})
	campaign := seedCampaign(t, store, tmpl.ID, nil)

	require.NoError(t, exec.Launch(context.Background(), campaign.ID))
	// The claim is taken before Launch returns, so the loser hears about
	// it without waiting out the dispatch loop.
	assert.ErrorIs(t, exec.Launch(context.Background(), campaign.ID), ErrAlreadyRunning)

	close(release)
	require.Eventually(t, func() bool {
		c, err := store.Get(campaign.ID)
		return err == nil && c.Status == models.CampaignSent
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecute_CancelledRunEndsFailedNotStuckSending(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	tmpl := seedTemplate(t, db)
	seedContact(t, db, "5492645280221")

	exec := NewExecutor(db, store, &fakeGateway{}, events.Nop{})
	campaign := seedCampaign(t, store, tmpl.ID, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, exec.Execute(ctx, campaign.ID), context.Canceled)

	final, err := store.Get(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignFailed, final.Status, "an interrupted run must not stay SENDING")
	assert.Equal(t, 0, final.SentCount)
	assert.Equal(t, 0, final.Progress, "abort keeps the progress it reached")

	// FAILED is terminal: the campaign is not re-claimable.
	assert.ErrorIs(t, store.BeginSending(campaign.ID, 1), ErrInvalidTransition)
}

func TestStore_TransitionsAreOneDirectional(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	c := &models.Campaign{Name: "x", TemplateID: "t", ChannelID: "ch"}
	require.NoError(t, store.Create(c))

	require.NoError(t, store.BeginSending(c.ID, 1))
	// Claiming twice must fail.
	assert.ErrorIs(t, store.BeginSending(c.ID, 1), ErrInvalidTransition)
	// Cancellation is only legal while SCHEDULED.
	_, err := store.Cancel(c.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, store.Finish(c.ID, models.CampaignSent))
	// Terminal status never goes back to SENDING.
	assert.ErrorIs(t, store.BeginSending(c.ID, 1), ErrInvalidTransition)
	assert.ErrorIs(t, store.Finish(c.ID, models.CampaignFailed), ErrInvalidTransition)
}

func TestRecipients_TagSegmentation(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)

	seedContact(t, db, "5492645280221", "VIP")
	seedContact(t, db, "5492645280222", "VIP", "OTHER")
	seedContact(t, db, "5492645280223", "OTHER")
	seedContact(t, db, "5492645280224")

	vip := "VIP"
	tagged, err := store.Recipients(&vip)
	require.NoError(t, err)
	assert.Len(t, tagged, 2)

	all, err := store.Recipients(nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
