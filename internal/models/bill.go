// Package models defines bill and payment structures for BillPipe.
package models

import (
	"errors"
	"fmt"
	"time"
)

// PaymentStatus tracks a participant's payment for a bill.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSent      PaymentStatus = "sent"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// BillStatus is the overall lifecycle status of a bill.
type BillStatus string

const (
	BillStatusActive    BillStatus = "active"
	BillStatusCompleted BillStatus = "completed"
	BillStatusCancelled BillStatus = "cancelled"
)

// DeliveryMethod identifies the channel an outbound message went through.
type DeliveryMethod string

const (
	DeliveryMethodWhatsApp DeliveryMethod = "whatsapp"
	DeliveryMethodSMS      DeliveryMethod = "sms"
)

// Bill amount errors.
var (
	ErrNonPositiveAmount = errors.New("amount must be positive")
	ErrEmptyDescription  = errors.New("bill description cannot be empty")
	ErrNoParticipants    = errors.New("bill requires at least one participant")
)

// BillItem is one line item on a bill. Amounts are in the smallest currency
// unit (paise for INR) to keep split arithmetic exact.
type BillItem struct {
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	Quantity int    `json:"quantity"`
}

// BillData is the core bill information extracted from user input.
type BillData struct {
	TotalAmount int64      `json:"total_amount"`
	Description string     `json:"description"`
	Items       []BillItem `json:"items,omitempty"`
	Currency    string     `json:"currency"`
	Merchant    string     `json:"merchant,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
}

// Validate checks the extracted bill data before it enters the flow.
func (b *BillData) Validate() error {
	if b.TotalAmount <= 0 {
		return ErrNonPositiveAmount
	}
	if b.Description == "" {
		return ErrEmptyDescription
	}
	for _, item := range b.Items {
		if item.Amount <= 0 {
			return fmt.Errorf("item %q: %w", item.Name, ErrNonPositiveAmount)
		}
	}
	return nil
}

// FormatAmount renders an amount in paise as a currency string, e.g. "₹500.00".
func FormatAmount(paise int64, currency string) string {
	symbol := "₹"
	if currency != "" && currency != "INR" {
		symbol = currency + " "
	}
	return fmt.Sprintf("%s%d.%02d", symbol, paise/100, paise%100)
}

// Participant is one person owing a share of a bill.
type Participant struct {
	Name          string        `json:"name"`
	PhoneNumber   string        `json:"phone_number"`
	AmountOwed    int64         `json:"amount_owed"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	ContactID     string        `json:"contact_id,omitempty"`
}

// Contact is a saved phone book entry owned by a user.
type Contact struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phone_number"`
	CreatedAt   time.Time `json:"created_at"`
}

// Bill is a persisted bill with its participants.
type Bill struct {
	ID           string        `json:"id"`
	OrganizerID  string        `json:"organizer_id"`
	Data         BillData      `json:"data"`
	Participants []Participant `json:"participants"`
	Status       BillStatus    `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

// PaymentRequest records one payment ask sent to a participant.
type PaymentRequest struct {
	ID          string           `json:"id"`
	BillID      string           `json:"bill_id"`
	Participant string           `json:"participant"`
	PhoneNumber string           `json:"phone_number"`
	Amount      int64            `json:"amount"`
	UPILink     string           `json:"upi_link"`
	Status      PaymentStatus    `json:"status"`
	SentVia     []DeliveryMethod `json:"sent_via,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	PaidAt      *time.Time       `json:"paid_at,omitempty"`
}
