package ingest

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"whatsapp-hub/internal/events"
	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/whatsapp"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// optOutKeyword is the reserved inbound text that opts a contact out of
// further campaigns.
const optOutKeyword = "BAJA"

// MediaSource is the provider surface the background media fetch needs.
type MediaSource interface {
	MediaInfo(ctx context.Context, channelID, mediaID string) (*whatsapp.MediaInfo, error)
	DownloadMedia(ctx context.Context, channelID, url string) ([]byte, error)
}

// Service is the inbound pipeline: it persists messages transactionally,
// maintains contact aggregates, and hands media off to a detached fetch.
type Service struct {
	db       *gorm.DB
	bus      events.Bus
	media    MediaSource
	mediaDir string
}

func NewService(db *gorm.DB, bus events.Bus, media MediaSource, mediaDir string) *Service {
	return &Service{db: db, bus: bus, media: media, mediaDir: mediaDir}
}

// errDuplicateMessage aborts the ingestion transaction when the provider
// redelivers a message id we already stored.
var errDuplicateMessage = errors.New("duplicate provider message id")

// HandleInbound processes one inbound message event. Everything up to the
// commit happens in a single transaction; events and the media fetch run
// only after a successful commit.
func (s *Service) HandleInbound(ctx context.Context, msg whatsapp.InboundMessage, sender *whatsapp.InboundContact, meta whatsapp.Metadata) error {
	var (
		channel *models.Channel
		contact *models.Contact
		stored  *models.Message
	)

	rawPhone := msg.From
	senderName := ""
	if sender != nil {
		if sender.WaID != "" {
			rawPhone = sender.WaID
		}
		senderName = sender.Profile.Name
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Channel resolution is best-effort: an unknown receiving number
		// still gets its message stored, just unlinked.
		if meta.PhoneNumberID != "" {
			var ch models.Channel
			if err := tx.First(&ch, "phone_id = ?", meta.PhoneNumberID).Error; err == nil {
				channel = &ch
			}
		}

		var err error
		contact, err = ResolveContact(tx, rawPhone, senderName)
		if err != nil {
			return err
		}

		text := extractText(msg)

		if strings.EqualFold(text, optOutKeyword) {
			contact.AddTag(models.TagOptOut)
			if err := tx.Save(contact).Error; err != nil {
				return err
			}
			log.WithField("phone", contact.Phone).Info("contact opted out")
			// Tag change only; no message row.
			return nil
		}

		m := models.Message{
			ID:        msg.ID,
			Direction: models.DirectionInbound,
			Type:      msg.Type,
			Body:      text,
			MediaURL:  nil, // backfilled by the detached media fetch
			Status:    models.StatusDelivered,
			Timestamp: parseTimestamp(msg.Timestamp),
			ContactID: contact.ID,
		}
		if channel != nil {
			m.ChannelID = &channel.ID
		}
		if err := tx.Create(&m).Error; err != nil {
			if isDuplicateKey(err) {
				return errDuplicateMessage
			}
			return err
		}
		stored = &m

		contact.UnreadCount++
		contact.LastActive = time.Now()
		return tx.Save(contact).Error
	})

	if errors.Is(err, errDuplicateMessage) {
		// Redelivery of an already-stored id is a no-op success.
		log.WithField("message", msg.ID).Debug("duplicate inbound delivery ignored")
		return nil
	}
	if err != nil {
		return err
	}
	if stored == nil {
		return nil // opt-out path
	}

	s.bus.Publish(events.NewMessage, stored)
	s.bus.Publish(events.ContactUpdated, contact)

	if media := msg.Media(); media != nil && channel != nil && channel.AccessToken != "" {
		// Detached on purpose: ingestion never waits on the provider's
		// media endpoints.
		go s.fetchMedia(context.Background(), channel.ID, media.ID, stored.ID, contact.ID)
	}
	return nil
}

// statusRank orders the delivery lifecycle. Callbacks can arrive out of
// order; a message only ever moves forward, and read/failed are terminal.
var statusRank = map[string]int{
	models.StatusPending:   0,
	models.StatusSent:      1,
	models.StatusDelivered: 2,
	models.StatusRead:      3,
	models.StatusFailed:    3,
}

// HandleStatus applies a delivery-status callback. Unknown message ids and
// callbacks that would move the status backward are ignored.
func (s *Service) HandleStatus(ctx context.Context, st whatsapp.StatusUpdate) error {
	var msg models.Message
	err := s.db.WithContext(ctx).First(&msg, "id = ?", st.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if statusRank[st.Status] <= statusRank[msg.Status] {
		log.WithFields(log.Fields{
			"message": st.ID,
			"from":    msg.Status,
			"to":      st.Status,
		}).Debug("out-of-order status callback ignored")
		return nil
	}

	if err := s.db.WithContext(ctx).Model(&msg).Update("status", st.Status).Error; err != nil {
		return err
	}
	s.bus.Publish(events.MessageStatus, map[string]string{
		"message_id": st.ID,
		"status":     st.Status,
	})
	return nil
}

// HandleAccountUpdate reacts to a provider-side ban or restriction by
// disconnecting the owning channel and raising a critical alert.
func (s *Service) HandleAccountUpdate(ctx context.Context, phoneNumberID, event string) error {
	var ch models.Channel
	if err := s.db.WithContext(ctx).First(&ch, "phone_id = ?", phoneNumberID).Error; err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(&ch).Update("status", models.ChannelDisconnected).Error; err != nil {
		return err
	}
	log.WithFields(log.Fields{"channel": ch.Name, "event": event}).Warn("channel disconnected by provider")
	s.bus.Publish(events.ChannelIssue, map[string]string{
		"channel_id": ch.ID,
		"name":       ch.Name,
		"event":      event,
	})
	return nil
}

// extractText pulls a human-readable summary out of the typed payload:
// text body, button or interactive reply title, media caption, or a
// bracketed type tag for anything else.
func extractText(msg whatsapp.InboundMessage) string {
	switch msg.Type {
	case "text":
		if msg.Text != nil {
			return msg.Text.Body
		}
	case "button":
		if msg.Button != nil {
			return msg.Button.Text
		}
	case "interactive":
		if msg.Interactive != nil {
			if msg.Interactive.ButtonReply != nil {
				return msg.Interactive.ButtonReply.Title
			}
			if msg.Interactive.ListReply != nil {
				return msg.Interactive.ListReply.Title
			}
		}
	default:
		if media := msg.Media(); media != nil && media.Caption != "" {
			return media.Caption
		}
	}
	return "[" + strings.ToUpper(msg.Type) + "]"
}

func parseTimestamp(ts string) time.Time {
	if sec, err := strconv.ParseInt(ts, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0)
	}
	return time.Now()
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// Driver-specific texts in case error translation misses one.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
