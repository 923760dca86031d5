// Package contacts manages participant phone books: phone number
// normalization, participant list parsing, and saved contact lookup.
package contacts

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/store"
)

// DefaultCountryCode is prepended to bare 10-digit numbers.
const DefaultCountryCode = "+91"

// Contact errors.
var (
	ErrInvalidPhone   = errors.New("invalid phone number")
	ErrNoParticipants = errors.New("no participants found in input")
)

var (
	nonDigitPattern = regexp.MustCompile(`[^0-9+]`)
	// participantPattern matches one "Name [phone]" entry.
	participantPattern = regexp.MustCompile(`([\p{L}][\p{L} .']*[\p{L}]|[\p{L}])\s*[:=-]?\s*(\+?[0-9][0-9 \-()]{5,})?`)
)

// FormatPhoneNumber normalizes a raw phone number to E.164. Bare 10 digit
// numbers get the default country code; numbers with a plus keep it.
func FormatPhoneNumber(raw string) (string, error) {
	cleaned := nonDigitPattern.ReplaceAllString(raw, "")
	if cleaned == "" {
		return "", fmt.Errorf("%w: %q has no digits", ErrInvalidPhone, raw)
	}
	hasPlus := strings.HasPrefix(cleaned, "+")
	digits := strings.TrimPrefix(cleaned, "+")
	if strings.Contains(digits, "+") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, raw)
	}
	if len(digits) < 7 || len(digits) > 15 {
		return "", fmt.Errorf("%w: %q has %d digits", ErrInvalidPhone, raw, len(digits))
	}
	if hasPlus {
		return "+" + digits, nil
	}
	if len(digits) == 10 {
		return DefaultCountryCode + digits, nil
	}
	return "+" + digits, nil
}

// ParsedParticipant is one entry from a participant list message.
type ParsedParticipant struct {
	Name        string
	PhoneNumber string // E.164 when present, empty when only a name was given
}

// ParseParticipants extracts participants from a message like
// "Asha 9876543210, Ravi +14155550123, Meera". Entries are deduplicated by
// lowercase name; the first occurrence wins.
func ParseParticipants(text string) ([]ParsedParticipant, error) {
	var participants []ParsedParticipant
	seen := make(map[string]bool)
	for _, chunk := range splitEntries(text) {
		m := participantPattern.FindStringSubmatch(chunk)
		if m == nil || m[1] == "" {
			continue
		}
		name := strings.TrimSpace(m[1])
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		p := ParsedParticipant{Name: name}
		if m[2] != "" {
			phone, err := FormatPhoneNumber(m[2])
			if err != nil {
				return nil, fmt.Errorf("participant %s: %w", name, err)
			}
			p.PhoneNumber = phone
		}
		seen[key] = true
		participants = append(participants, p)
	}
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}
	return participants, nil
}

func splitEntries(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
}

// Book resolves parsed participants against a user's saved contacts.
type Book struct {
	store store.Store
}

// NewBook creates a contact book backed by the given store.
func NewBook(st store.Store) *Book {
	return &Book{store: st}
}

// Resolve fills in phone numbers from saved contacts and saves new ones.
// It returns the participants whose numbers are still unknown; the flow asks
// the organizer for those before moving on.
func (b *Book) Resolve(ownerID string, parsed []ParsedParticipant) ([]models.Participant, []string, error) {
	slog.Debug("Book Resolve invoked", "owner_id", ownerID, "count", len(parsed))

	saved, err := b.store.GetContactsByOwner(ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load contacts: %w", err)
	}
	byName := make(map[string]models.Contact, len(saved))
	for _, c := range saved {
		byName[strings.ToLower(c.Name)] = c
	}

	var participants []models.Participant
	var missing []string
	for _, p := range parsed {
		participant := models.Participant{
			Name:          p.Name,
			PhoneNumber:   p.PhoneNumber,
			PaymentStatus: models.PaymentStatusPending,
		}
		if participant.PhoneNumber == "" {
			if c, ok := byName[strings.ToLower(p.Name)]; ok {
				participant.PhoneNumber = c.PhoneNumber
				participant.ContactID = c.ID
			} else {
				missing = append(missing, p.Name)
			}
		} else {
			contact, err := b.findOrCreate(ownerID, p.Name, participant.PhoneNumber)
			if err != nil {
				return nil, nil, err
			}
			participant.ContactID = contact.ID
		}
		participants = append(participants, participant)
	}

	slog.Debug("Book Resolve completed", "owner_id", ownerID, "resolved", len(participants)-len(missing), "missing", len(missing))
	return participants, missing, nil
}

// findOrCreate returns the owner's contact for a phone number, saving a new
// one when none exists.
func (b *Book) findOrCreate(ownerID, name, phoneNumber string) (models.Contact, error) {
	existing, err := b.store.FindContactByPhone(ownerID, phoneNumber)
	if err != nil {
		return models.Contact{}, fmt.Errorf("failed to look up contact: %w", err)
	}
	if existing != nil {
		return *existing, nil
	}
	contact := models.Contact{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        name,
		PhoneNumber: phoneNumber,
		CreatedAt:   time.Now(),
	}
	if err := b.store.SaveContact(contact); err != nil {
		return models.Contact{}, fmt.Errorf("failed to save contact: %w", err)
	}
	slog.Info("Book saved new contact", "owner_id", ownerID, "name", name)
	return contact, nil
}
