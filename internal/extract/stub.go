package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/splitkaro/billpipe/internal/models"
)

// amountPattern matches the first rupee amount in a message, with or without
// a currency marker, e.g. "1200", "₹1,200.50", "rs 450".
var amountPattern = regexp.MustCompile(`(?i)(?:₹|rs\.?\s*|inr\s*)?([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)

// StubExtractor parses bills from plain text without calling any external
// API. Used in tests and as the degraded path when extraction is down.
type StubExtractor struct{}

func NewStubExtractor() *StubExtractor {
	return &StubExtractor{}
}

// ExtractBill finds the first amount in the message and treats the rest of
// the text as the description.
func (s *StubExtractor) ExtractBill(ctx context.Context, msg models.Message) (models.BillData, error) {
	match := amountPattern.FindStringSubmatch(msg.Content)
	if match == nil {
		return models.BillData{}, ErrNoBillFound
	}

	rupees, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
	if err != nil || rupees <= 0 {
		return models.BillData{}, ErrNoBillFound
	}

	description := strings.TrimSpace(strings.Replace(msg.Content, match[0], "", 1))
	if description == "" {
		description = "Bill"
	}

	data := models.BillData{
		TotalAmount: rupeesToPaise(rupees),
		Description: description,
		Currency:    "INR",
	}
	if err := data.Validate(); err != nil {
		return models.BillData{}, err
	}
	return data, nil
}
