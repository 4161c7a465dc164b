package models

import (
	"encoding/json"
	"time"
)

// Channel status values.
const (
	ChannelConnected    = "CONNECTED"
	ChannelDisconnected = "DISCONNECTED"
)

// Message direction and status values.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Campaign status machine: SCHEDULED -> SENDING -> {SENT, FAILED},
// or SCHEDULED -> CANCELLED. Transitions are one-directional.
const (
	CampaignScheduled = "SCHEDULED"
	CampaignSending   = "SENDING"
	CampaignSent      = "SENT"
	CampaignFailed    = "FAILED"
	CampaignCancelled = "CANCELLED"
)

// TagOptOut marks a contact that asked to stop receiving messages.
const TagOptOut = "BLOCKED_OPTOUT"

// Channel is a provider-registered sending identity (one WhatsApp number).
type Channel struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	PhoneNumber string    `gorm:"type:varchar(50);not null" json:"phone_number"`
	PhoneID     string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"phone_id"`
	WabaID      string    `gorm:"type:varchar(100)" json:"waba_id"`
	AccessToken string    `gorm:"type:text" json:"access_token"`
	AppSecret   string    `gorm:"type:text" json:"app_secret"`
	Status      string    `gorm:"type:varchar(20);default:'CONNECTED'" json:"status"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Channel) TableName() string {
	return "channels"
}

// Contact represents a conversational counterpart. Phone holds the
// canonical form and is unique: exactly one row per real-world number.
type Contact struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Phone        string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"phone"`
	Name         string    `gorm:"type:varchar(255)" json:"name"`
	Avatar       string    `gorm:"type:text" json:"avatar"`
	LastActive   time.Time `gorm:"index" json:"last_active"`
	UnreadCount  int       `gorm:"default:0" json:"unread_count"`
	Tags         string    `gorm:"type:text" json:"tags"` // JSON array of tag ids
	Notes        string    `gorm:"type:text" json:"notes"`
	Email        string    `gorm:"type:varchar(255)" json:"email"`
	Birthday     string    `gorm:"type:varchar(10)" json:"birthday"`
	Company      string    `gorm:"type:varchar(255)" json:"company"`
	CustomFields string    `gorm:"type:text" json:"custom_fields"` // JSON object
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}

// TagList decodes the JSON tag column. A malformed or empty column reads
// as no tags.
func (c *Contact) TagList() []string {
	if c.Tags == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(c.Tags), &tags); err != nil {
		return nil
	}
	return tags
}

func (c *Contact) SetTags(tags []string) {
	if tags == nil {
		tags = []string{}
	}
	raw, _ := json.Marshal(tags)
	c.Tags = string(raw)
}

func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.TagList() {
		if t == tag {
			return true
		}
	}
	return false
}

func (c *Contact) AddTag(tag string) {
	if c.HasTag(tag) {
		return
	}
	c.SetTags(append(c.TagList(), tag))
}

// Message is one delivery unit. ID is the provider-assigned message id
// (synthetic for failed outbound sends) and doubles as the dedup key.
type Message struct {
	ID        string    `gorm:"primaryKey;type:varchar(255)" json:"id"`
	Direction string    `gorm:"type:varchar(10);not null" json:"direction"`
	Type      string    `gorm:"type:varchar(50);default:'text'" json:"type"`
	Body      string    `gorm:"type:text" json:"body"`
	MediaURL  *string   `gorm:"type:text" json:"media_url"`
	Status    string    `gorm:"type:varchar(20);default:'sent'" json:"status"`
	Error     string    `gorm:"type:text" json:"error,omitempty"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	ContactID string    `gorm:"type:varchar(36);index;not null" json:"contact_id"`
	ChannelID *string   `gorm:"type:varchar(36)" json:"channel_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// Campaign is a bulk-send job targeting a computed recipient segment.
type Campaign struct {
	ID              string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name            string     `gorm:"type:varchar(255);not null" json:"name"`
	TemplateID      string     `gorm:"type:varchar(36)" json:"template_id"`
	ChannelID       string     `gorm:"type:varchar(36)" json:"channel_id"`
	TargetTagID     *string    `gorm:"type:varchar(36)" json:"target_tag_id"` // nil = all contacts
	ScheduledTime   *time.Time `json:"scheduled_time"`
	// Delay defaults are applied at the API layer so an explicit zero
	// (no pacing) survives the insert.
	DelayMin        int        `json:"delay_min"`
	DelayMax        int        `json:"delay_max"`
	RecipientsCount int        `gorm:"default:0" json:"recipients_count"`
	SentCount       int        `gorm:"default:0" json:"sent_count"`
	FailedCount     int        `gorm:"default:0" json:"failed_count"`
	Progress        int        `gorm:"default:0" json:"progress"`
	Status          string     `gorm:"type:varchar(20);default:'SCHEDULED'" json:"status"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Campaign) TableName() string {
	return "campaigns"
}

// Tag is a CRM label referenced by contacts and campaign segments.
type Tag struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Color     string    `gorm:"type:varchar(50);default:'bg-gray-500'" json:"color"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Tag) TableName() string {
	return "tags"
}

// Template mirrors a provider-approved message template.
type Template struct {
	ID         string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name       string `gorm:"type:varchar(255);not null;uniqueIndex" json:"name"`
	Category   string `gorm:"type:varchar(100)" json:"category"`
	Language   string `gorm:"type:varchar(10);default:'es'" json:"language"`
	Components string `gorm:"type:text" json:"components"` // JSON components
	Status     string `gorm:"type:varchar(50)" json:"status"`
}

func (Template) TableName() string {
	return "templates"
}

// QuickReply is a canned response addressed by shortcut.
type QuickReply struct {
	ID       string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Shortcut string `gorm:"type:varchar(100);not null;uniqueIndex" json:"shortcut"`
	Content  string `gorm:"type:text;not null" json:"content"`
}

func (QuickReply) TableName() string {
	return "quick_replies"
}
