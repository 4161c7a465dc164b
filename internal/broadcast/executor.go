package broadcast

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"whatsapp-hub/internal/events"
	"whatsapp-hub/internal/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrAlreadyRunning means another executor instance holds this
	// campaign id right now.
	ErrAlreadyRunning   = errors.New("campaign is already executing")
	ErrTemplateNotFound = errors.New("campaign template not found")
)

// TemplateSender is the provider operation campaign dispatch needs.
type TemplateSender interface {
	SendTemplate(ctx context.Context, channelID, to, name, language string, params []string) (string, error)
}

// Executor runs campaigns: it resolves the segment, paces sends with
// randomized delay, and keeps counts and progress current. A per-campaign
// running set plus the store's conditional SCHEDULED->SENDING transition
// guarantee at most one run per id.
type Executor struct {
	db      *gorm.DB
	store   *Store
	gateway TemplateSender
	bus     events.Bus

	mu      sync.Mutex
	running map[string]struct{}
}

func NewExecutor(db *gorm.DB, store *Store, gateway TemplateSender, bus events.Bus) *Executor {
	return &Executor{
		db:      db,
		store:   store,
		gateway: gateway,
		bus:     bus,
		running: make(map[string]struct{}),
	}
}

// Execute runs one campaign to completion. A single recipient's failure
// never aborts the run; it lands in failedCount and dispatch continues.
func (e *Executor) Execute(ctx context.Context, id string) error {
	if !e.acquire(id) {
		return ErrAlreadyRunning
	}
	defer e.release(id)
	return e.run(ctx, id)
}

// Launch claims the campaign synchronously and dispatches in the
// background, so callers learn about a lost race immediately without
// waiting out the run.
func (e *Executor) Launch(ctx context.Context, id string) error {
	if !e.acquire(id) {
		return ErrAlreadyRunning
	}
	go func() {
		defer e.release(id)
		if err := e.run(ctx, id); err != nil {
			log.WithField("campaign", id).WithError(err).Error("campaign execution failed")
		}
	}()
	return nil
}

func (e *Executor) run(ctx context.Context, id string) error {
	campaign, err := e.store.Get(id)
	if err != nil {
		return err
	}

	var tmpl models.Template
	if err := e.db.First(&tmpl, "id = ?", campaign.TemplateID).Error; err != nil {
		if stErr := e.store.FailEarly(id); stErr != nil {
			return stErr
		}
		log.WithField("campaign", campaign.Name).Error("template not resolvable, campaign failed")
		return ErrTemplateNotFound
	}

	// Segment captured once; the run iterates this stable sequence.
	recipients, err := e.store.Recipients(campaign.TargetTagID)
	if err != nil {
		return err
	}

	if err := e.store.BeginSending(id, len(recipients)); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return ErrAlreadyRunning
		}
		return err
	}

	log.WithFields(log.Fields{
		"campaign":   campaign.Name,
		"recipients": len(recipients),
	}).Info("campaign dispatch started")

	sent, failed := 0, 0
	total := len(recipients)

	for i, contact := range recipients {
		// Randomized inter-message delay so the send pattern never looks
		// bursty to the provider's abuse detection.
		if err := sleepJitter(ctx, campaign.DelayMin, campaign.DelayMax); err != nil {
			// Interrupted mid-run. Leaving the claim in SENDING would pin
			// the campaign forever, so the run lands on FAILED with
			// whatever counts it got to.
			if stErr := e.store.AbortSending(id); stErr != nil {
				log.WithField("campaign", id).WithError(stErr).Warn("interrupted campaign not finalized")
			}
			return err
		}

		providerID, sendErr := e.gateway.SendTemplate(ctx, campaign.ChannelID, contact.Phone, tmpl.Name, tmpl.Language, nil)
		if sendErr != nil {
			failed++
			log.WithFields(log.Fields{"campaign": campaign.Name, "phone": contact.Phone}).
				WithError(sendErr).Warn("campaign send failed")
		} else {
			sent++
		}
		e.recordOutbound(campaign, contact.ID, tmpl.Name, providerID, sendErr)

		progress := int(math.Round(float64(i+1) / float64(total) * 100))
		if err := e.store.UpdateProgress(id, sent, failed, progress); err != nil {
			log.WithError(err).Warn("campaign progress update failed")
		}
		e.publishProgress(id, progress, sent, failed, total)
	}

	final := models.CampaignSent
	if total > 0 && failed == total {
		final = models.CampaignFailed
	}
	if err := e.store.Finish(id, final); err != nil {
		return err
	}
	e.publishProgress(id, 100, sent, failed, total)

	log.WithFields(log.Fields{
		"campaign": campaign.Name,
		"sent":     sent,
		"failed":   failed,
		"status":   final,
	}).Info("campaign dispatch finished")
	return nil
}

// recordOutbound persists the per-recipient message row so failures stay
// visible with their reason. Best-effort; a logging miss never stops the
// run.
func (e *Executor) recordOutbound(campaign *models.Campaign, contactID, templateName, providerID string, sendErr error) {
	m := models.Message{
		ID:        providerID,
		Direction: models.DirectionOutbound,
		Type:      "template",
		Body:      "Template: " + templateName,
		Status:    models.StatusSent,
		Timestamp: time.Now(),
		ContactID: contactID,
		ChannelID: &campaign.ChannelID,
	}
	if sendErr != nil {
		m.ID = "failed_" + uuid.NewString()
		m.Status = models.StatusFailed
		m.Error = sendErr.Error()
	}
	if err := e.db.Create(&m).Error; err != nil {
		log.WithError(err).Warn("outbound campaign message not recorded")
	}
}

func (e *Executor) publishProgress(id string, progress, sent, failed, total int) {
	e.bus.Publish(events.CampaignProgress, map[string]any{
		"campaign_id":  id,
		"progress":     progress,
		"sent_count":   sent,
		"failed_count": failed,
		"total":        total,
	})
}

func (e *Executor) acquire(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[id]; ok {
		return false
	}
	e.running[id] = struct{}{}
	return true
}

func (e *Executor) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, id)
}

// sleepJitter suspends for a duration drawn uniformly from
// [minSec, maxSec] seconds. It is a cooperative suspension point, not a
// process-wide block.
func sleepJitter(ctx context.Context, minSec, maxSec int) error {
	if maxSec < minSec {
		minSec, maxSec = maxSec, minSec
	}
	d := time.Duration(minSec) * time.Second
	if span := maxSec - minSec; span > 0 {
		d += time.Duration(rand.Int63n(int64(span)*int64(time.Second) + 1))
	}
	if d <= 0 {
		// Zero delay still observes cancellation between recipients.
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
