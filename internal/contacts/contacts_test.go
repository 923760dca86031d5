package contacts

import (
	"errors"
	"testing"
	"time"

	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/store"
)

func TestFormatPhoneNumber(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "bare ten digits gets country code", input: "9876543210", want: "+919876543210"},
		{name: "formatted ten digits", input: "98765 43210", want: "+919876543210"},
		{name: "existing plus preserved", input: "+14155550123", want: "+14155550123"},
		{name: "dashes and parens stripped", input: "(987) 654-3210", want: "+919876543210"},
		{name: "eleven digits without plus", input: "919876543210", want: "+919876543210"},
		{name: "too short", input: "12345", wantErr: true},
		{name: "too long", input: "+1234567890123456", wantErr: true},
		{name: "no digits", input: "call me", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatPhoneNumber(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPhone) {
					t.Errorf("Expected ErrInvalidPhone, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FormatPhoneNumber(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("FormatPhoneNumber(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseParticipants(t *testing.T) {
	parsed, err := ParseParticipants("Asha 9876543210, Ravi +14155550123, Meera")
	if err != nil {
		t.Fatalf("ParseParticipants failed: %v", err)
	}
	if len(parsed) != 3 {
		t.Fatalf("Expected 3 participants, got %d: %v", len(parsed), parsed)
	}
	if parsed[0].Name != "Asha" || parsed[0].PhoneNumber != "+919876543210" {
		t.Errorf("Unexpected first participant: %+v", parsed[0])
	}
	if parsed[1].Name != "Ravi" || parsed[1].PhoneNumber != "+14155550123" {
		t.Errorf("Unexpected second participant: %+v", parsed[1])
	}
	if parsed[2].Name != "Meera" || parsed[2].PhoneNumber != "" {
		t.Errorf("Expected name-only participant, got %+v", parsed[2])
	}
}

func TestParseParticipantsDeduplicatesByName(t *testing.T) {
	parsed, err := ParseParticipants("Asha 9876543210, asha 9876500000")
	if err != nil {
		t.Fatalf("ParseParticipants failed: %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("Expected duplicate name collapsed, got %v", parsed)
	}
	if parsed[0].PhoneNumber != "+919876543210" {
		t.Errorf("First occurrence should win, got %+v", parsed[0])
	}
}

func TestParseParticipantsEmpty(t *testing.T) {
	if _, err := ParseParticipants("123, 456"); !errors.Is(err, ErrNoParticipants) {
		t.Errorf("Expected ErrNoParticipants, got %v", err)
	}
}

func TestParseParticipantsBadPhone(t *testing.T) {
	if _, err := ParseParticipants("Asha 12345678901234567890"); !errors.Is(err, ErrInvalidPhone) {
		t.Errorf("Expected ErrInvalidPhone for overlong number, got %v", err)
	}
}

func TestResolveSavesNewContacts(t *testing.T) {
	st := store.NewInMemoryStore()
	book := NewBook(st)

	parsed := []ParsedParticipant{
		{Name: "Asha", PhoneNumber: "+919876543210"},
		{Name: "Ravi", PhoneNumber: "+919876500000"},
	}
	participants, missing, err := book.Resolve("u1", parsed)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("Expected no missing numbers, got %v", missing)
	}
	if len(participants) != 2 {
		t.Fatalf("Expected 2 participants, got %d", len(participants))
	}
	for _, p := range participants {
		if p.ContactID == "" {
			t.Errorf("Expected contact id for %s", p.Name)
		}
	}

	saved, _ := st.GetContactsByOwner("u1")
	if len(saved) != 2 {
		t.Errorf("Expected 2 saved contacts, got %d", len(saved))
	}
}

func TestResolveFillsFromSavedContacts(t *testing.T) {
	st := store.NewInMemoryStore()
	st.SaveContact(models.Contact{ID: "c1", OwnerID: "u1", Name: "Asha", PhoneNumber: "+919876543210", CreatedAt: time.Now()})
	book := NewBook(st)

	participants, missing, err := book.Resolve("u1", []ParsedParticipant{{Name: "asha"}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(missing) != 0 {
		t.Errorf("Expected saved contact to resolve, missing: %v", missing)
	}
	if participants[0].PhoneNumber != "+919876543210" || participants[0].ContactID != "c1" {
		t.Errorf("Expected contact fill-in, got %+v", participants[0])
	}
}

func TestResolveReportsMissingNumbers(t *testing.T) {
	st := store.NewInMemoryStore()
	book := NewBook(st)

	participants, missing, err := book.Resolve("u1", []ParsedParticipant{
		{Name: "Asha", PhoneNumber: "+919876543210"},
		{Name: "Meera"},
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(missing) != 1 || missing[0] != "Meera" {
		t.Errorf("Expected Meera missing, got %v", missing)
	}
	if len(participants) != 2 {
		t.Errorf("Expected both participants returned, got %d", len(participants))
	}
}

func TestResolveReusesExistingContactByPhone(t *testing.T) {
	st := store.NewInMemoryStore()
	st.SaveContact(models.Contact{ID: "c1", OwnerID: "u1", Name: "Asha", PhoneNumber: "+919876543210", CreatedAt: time.Now()})
	book := NewBook(st)

	participants, _, err := book.Resolve("u1", []ParsedParticipant{{Name: "Asha K", PhoneNumber: "+919876543210"}})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if participants[0].ContactID != "c1" {
		t.Errorf("Expected existing contact reused, got %+v", participants[0])
	}
	saved, _ := st.GetContactsByOwner("u1")
	if len(saved) != 1 {
		t.Errorf("Expected no duplicate contact saved, got %d", len(saved))
	}
}
