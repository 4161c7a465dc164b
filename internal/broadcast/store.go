package broadcast

import (
	"errors"
	"time"

	"whatsapp-hub/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrInvalidTransition means the campaign was not in the expected prior
// status. The conditional transitions below are what keeps the status
// machine one-directional even under concurrent callers.
var ErrInvalidTransition = errors.New("invalid campaign status transition")

// Store is the persistence and state machine layer for campaigns.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(c *models.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Status = models.CampaignScheduled
	return s.db.Create(c).Error
}

func (s *Store) Get(id string) (*models.Campaign, error) {
	var c models.Campaign
	if err := s.db.First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) List() ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.Order("created_at DESC").Find(&campaigns).Error
	return campaigns, err
}

// Due returns scheduled campaigns whose time has arrived.
func (s *Store) Due(now time.Time) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.
		Where("status = ? AND scheduled_time IS NOT NULL AND scheduled_time <= ?", models.CampaignScheduled, now).
		Find(&campaigns).Error
	return campaigns, err
}

// Cancel is only legal while the campaign is still scheduled.
func (s *Store) Cancel(id string) (*models.Campaign, error) {
	if err := s.transition(id, models.CampaignCancelled, models.CampaignScheduled); err != nil {
		return nil, err
	}
	return s.Get(id)
}

// BeginSending claims the campaign for execution. The conditional update
// fails for any caller that lost the race, so at most one executor enters
// SENDING for a given id.
func (s *Store) BeginSending(id string, recipients int) error {
	res := s.db.Model(&models.Campaign{}).
		Where("id = ? AND status = ?", id, models.CampaignScheduled).
		Updates(map[string]any{
			"status":           models.CampaignSending,
			"recipients_count": recipients,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (s *Store) UpdateProgress(id string, sent, failed, progress int) error {
	return s.db.Model(&models.Campaign{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"sent_count":   sent,
			"failed_count": failed,
			"progress":     progress,
		}).Error
}

// Finish moves a SENDING campaign to its terminal status and pins
// progress at 100.
func (s *Store) Finish(id, status string) error {
	res := s.db.Model(&models.Campaign{}).
		Where("id = ? AND status = ?", id, models.CampaignSending).
		Updates(map[string]any{"status": status, "progress": 100})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// AbortSending marks an interrupted SENDING run FAILED, keeping the
// progress and counts it actually reached.
func (s *Store) AbortSending(id string) error {
	return s.transition(id, models.CampaignFailed, models.CampaignSending)
}

// FailEarly marks a campaign FAILED before it ever entered SENDING
// (e.g. its template cannot be resolved).
func (s *Store) FailEarly(id string) error {
	return s.transition(id, models.CampaignFailed, models.CampaignScheduled)
}

func (s *Store) transition(id, to, from string) error {
	res := s.db.Model(&models.Campaign{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return nil
}
