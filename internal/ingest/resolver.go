package ingest

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"whatsapp-hub/internal/models"
	"whatsapp-hub/internal/phone"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ResolveContact finds, migrates, or creates the Contact for a sender.
// Lookup order: canonical phone, then the legacy stored form — a legacy hit
// is migrated to the canonical phone in place so the contact keeps its id,
// tags, and history instead of being duplicated. A storage error propagates
// to the caller's transaction.
func ResolveContact(tx *gorm.DB, rawPhone, name string) (*models.Contact, error) {
	canonical := phone.Canonicalize(rawPhone)
	if canonical == "" {
		return nil, fmt.Errorf("empty phone after canonicalization of %q", rawPhone)
	}

	var contact models.Contact
	err := tx.First(&contact, "phone = ?", canonical).Error
	if err == nil {
		return updateName(tx, &contact, name)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if legacy := phone.Legacy(canonical); legacy != "" {
		err = tx.First(&contact, "phone = ?", legacy).Error
		if err == nil {
			contact.Phone = canonical
			if saveErr := tx.Save(&contact).Error; saveErr != nil {
				return nil, saveErr
			}
			log.WithFields(log.Fields{"contact": contact.ID, "phone": canonical}).
				Info("contact migrated to canonical phone")
			return updateName(tx, &contact, name)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if name == "" {
		name = canonical
	}
	contact = models.Contact{
		ID:         uuid.NewString(),
		Phone:      canonical,
		Name:       name,
		Avatar:     avatarURL(name),
		LastActive: time.Now(),
		Tags:       "[]",
	}
	if err := tx.Create(&contact).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

func updateName(tx *gorm.DB, contact *models.Contact, name string) (*models.Contact, error) {
	if name == "" || name == contact.Name {
		return contact, nil
	}
	contact.Name = name
	if err := tx.Save(contact).Error; err != nil {
		return nil, err
	}
	return contact, nil
}

func avatarURL(name string) string {
	if name == "" {
		name = "User"
	}
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=random"
}
