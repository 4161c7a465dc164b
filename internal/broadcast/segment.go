package broadcast

import "whatsapp-hub/internal/models"

// Recipients computes a campaign's recipient set: every contact, or the
// contacts whose tag set contains the target tag. The returned slice is
// the captured segment for one run; dispatch iterates it in this order.
func (s *Store) Recipients(targetTagID *string) ([]models.Contact, error) {
	q := s.db.Model(&models.Contact{})
	if targetTagID != nil && *targetTagID != "" {
		// Tags are stored as a JSON array of quoted ids.
		q = q.Where("tags LIKE ?", `%"`+*targetTagID+`"%`)
	}
	var contacts []models.Contact
	err := q.Find(&contacts).Error
	return contacts, err
}
