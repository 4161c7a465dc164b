package ingest

import (
	"context"
	"os"
	"path/filepath"

	"whatsapp-hub/internal/events"
	"whatsapp-hub/internal/models"

	log "github.com/sirupsen/logrus"
)

// extByMime maps declared MIME types to file extensions; anything unmapped
// lands as a generic binary.
var extByMime = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"video/mp4":       ".mp4",
	"application/pdf": ".pdf",
}

// fetchMedia downloads a remote media object and backfills the owning
// message's media reference. One attempt, best-effort: any failure is
// logged and the reference stays null — there is no retry queue.
func (s *Service) fetchMedia(ctx context.Context, channelID, mediaID, messageID, contactID string) {
	logger := log.WithFields(log.Fields{"media": mediaID, "message": messageID})

	info, err := s.media.MediaInfo(ctx, channelID, mediaID)
	if err != nil {
		logger.WithError(err).Warn("media info fetch failed, reference stays null")
		return
	}

	data, err := s.media.DownloadMedia(ctx, channelID, info.URL)
	if err != nil {
		logger.WithError(err).Warn("media download failed, reference stays null")
		return
	}

	ext, ok := extByMime[info.MimeType]
	if !ok {
		ext = ".bin"
	}
	filename := mediaID + ext

	if err := os.MkdirAll(s.mediaDir, 0o755); err != nil {
		logger.WithError(err).Warn("media dir create failed")
		return
	}
	if err := os.WriteFile(filepath.Join(s.mediaDir, filename), data, 0o644); err != nil {
		logger.WithError(err).Warn("media write failed")
		return
	}

	mediaURL := "/uploads/media/" + filename
	if err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", messageID).
		Update("media_url", mediaURL).Error; err != nil {
		logger.WithError(err).Warn("media reference update failed")
		return
	}

	// Lets subscribers patch the one message instead of reloading.
	s.bus.Publish(events.MessageUpdated, map[string]string{
		"message_id": messageID,
		"media_url":  mediaURL,
		"contact_id": contactID,
	})
	logger.WithField("file", filename).Info("media stored")
}
