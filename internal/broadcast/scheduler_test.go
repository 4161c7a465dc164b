package broadcast

import (
	"testing"
	"time"

	"whatsapp-hub/internal/events"
	"whatsapp-hub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_PromotesDueCampaign(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	tmpl := seedTemplate(t, db)
	seedContact(t, db, "5492645280221")

	exec := NewExecutor(db, store, &fakeGateway{}, events.Nop{})

	past := time.Now().Add(-time.Minute)
	campaign := &models.Campaign{
		Name:          "due",
		TemplateID:    tmpl.ID,
		ChannelID:     "ch1",
		ScheduledTime: &past,
	}
	require.NoError(t, store.Create(campaign))

	sched := NewScheduler(store, exec, time.Hour)
	require.True(t, sched.Start())
	defer sched.Stop()

	// The start tick fires immediately; the hour-long interval means any
	// progress we observe came from that first tick.
	require.Eventually(t, func() bool {
		c, err := store.Get(campaign.ID)
		return err == nil && c.Status == models.CampaignSent
	}, 3*time.Second, 20*time.Millisecond)

	final, err := store.Get(campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, final.SentCount)
}

func TestScheduler_IgnoresFutureAndCancelled(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	tmpl := seedTemplate(t, db)
	seedContact(t, db, "5492645280221")

	future := time.Now().Add(time.Hour)
	upcoming := &models.Campaign{Name: "future", TemplateID: tmpl.ID, ChannelID: "ch1", ScheduledTime: &future}
	require.NoError(t, store.Create(upcoming))

	past := time.Now().Add(-time.Minute)
	cancelled := &models.Campaign{Name: "cancelled", TemplateID: tmpl.ID, ChannelID: "ch1", ScheduledTime: &past}
	require.NoError(t, store.Create(cancelled))
	_, err := store.Cancel(cancelled.ID)
	require.NoError(t, err)

	// Immediate-send campaigns carry no scheduled time; the poller must
	// never pick them up.
	unscheduled := &models.Campaign{Name: "manual", TemplateID: tmpl.ID, ChannelID: "ch1"}
	require.NoError(t, store.Create(unscheduled))

	exec := NewExecutor(db, store, &fakeGateway{}, events.Nop{})
	sched := NewScheduler(store, exec, 20*time.Millisecond)
	require.True(t, sched.Start())
	time.Sleep(150 * time.Millisecond)
	require.True(t, sched.Stop())

	for _, tc := range []struct {
		id   string
		want string
	}{
		{upcoming.ID, models.CampaignScheduled},
		{cancelled.ID, models.CampaignCancelled},
		{unscheduled.ID, models.CampaignScheduled},
	} {
		c, err := store.Get(tc.id)
		require.NoError(t, err)
		assert.Equal(t, tc.want, c.Status)
	}
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	db := newTestDB(t)
	store := NewStore(db)
	exec := NewExecutor(db, store, &fakeGateway{}, events.Nop{})

	sched := NewScheduler(store, exec, time.Hour)
	assert.False(t, sched.IsRunning())

	assert.True(t, sched.Start())
	assert.False(t, sched.Start(), "second start is a no-op")
	assert.True(t, sched.IsRunning())

	assert.True(t, sched.Stop())
	assert.False(t, sched.Stop(), "second stop is a no-op")
	assert.False(t, sched.IsRunning())

	// A stopped scheduler can be started again.
	assert.True(t, sched.Start())
	assert.True(t, sched.Stop())
}
