// Package split computes how a bill divides across participants. All
// arithmetic is in paise so splits always sum back to the exact total.
package split

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/splitkaro/billpipe/internal/models"
)

// Split errors.
var (
	ErrNoParticipants  = errors.New("cannot split a bill across zero participants")
	ErrSplitMismatch   = errors.New("split amounts do not sum to the bill total")
	ErrUnknownName     = errors.New("custom split names a person not on the bill")
	ErrUnparsableSplit = errors.New("could not parse custom split amounts")
)

// customEntryPattern matches one "name amount" pair, e.g. "Asha 450" or
// "Ravi: ₹120.50".
var customEntryPattern = regexp.MustCompile(`(?i)([\p{L}]+)\s*[:=-]?\s*(?:₹|rs\.?\s*|inr\s*)?([0-9][0-9,]*(?:\.[0-9]{1,2})?)`)

// EqualSplit divides total paise across n people. The remainder paise go to
// the earliest shares so the amounts always sum to total.
func EqualSplit(total int64, n int) ([]int64, error) {
	if n <= 0 {
		return nil, ErrNoParticipants
	}
	base := total / int64(n)
	remainder := total % int64(n)
	shares := make([]int64, n)
	for i := range shares {
		shares[i] = base
		if int64(i) < remainder {
			shares[i]++
		}
	}
	return shares, nil
}

// ApplyEqualSplit assigns equal shares to each participant in place.
func ApplyEqualSplit(total int64, participants []models.Participant) error {
	shares, err := EqualSplit(total, len(participants))
	if err != nil {
		return err
	}
	for i := range participants {
		participants[i].AmountOwed = shares[i]
		participants[i].PaymentStatus = models.PaymentStatusPending
	}
	slog.Debug("Equal split applied", "total", total, "participants", len(participants))
	return nil
}

// ParseCustomAmounts parses a message like "Asha 450, Ravi 750" into paise
// amounts keyed by lowercase name.
func ParseCustomAmounts(text string) (map[string]int64, error) {
	matches := customEntryPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, ErrUnparsableSplit
	}
	amounts := make(map[string]int64, len(matches))
	for _, m := range matches {
		rupees, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil || rupees <= 0 {
			return nil, fmt.Errorf("%w: bad amount for %q", ErrUnparsableSplit, m[1])
		}
		amounts[strings.ToLower(m[1])] = int64(rupees*100 + 0.5)
	}
	return amounts, nil
}

// ApplyCustomSplit assigns the parsed amounts to matching participants and
// verifies the sum against the bill total.
func ApplyCustomSplit(total int64, participants []models.Participant, amounts map[string]int64) error {
	if len(participants) == 0 {
		return ErrNoParticipants
	}
	assigned := make(map[string]bool, len(amounts))
	for i := range participants {
		key := strings.ToLower(participants[i].Name)
		amount, ok := amounts[key]
		if !ok {
			return fmt.Errorf("no amount given for %s: %w", participants[i].Name, ErrSplitMismatch)
		}
		participants[i].AmountOwed = amount
		participants[i].PaymentStatus = models.PaymentStatusPending
		assigned[key] = true
	}
	for name := range amounts {
		if !assigned[name] {
			return fmt.Errorf("%w: %s", ErrUnknownName, name)
		}
	}
	return ValidateSplits(total, participants)
}

// ValidateSplits checks that participant shares sum exactly to the bill total.
func ValidateSplits(total int64, participants []models.Participant) error {
	var sum int64
	for _, p := range participants {
		sum += p.AmountOwed
	}
	if sum != total {
		return fmt.Errorf("%w: shares sum to %d, bill total is %d", ErrSplitMismatch, sum, total)
	}
	return nil
}

// FormatSummary renders participant shares for a confirmation message.
func FormatSummary(data models.BillData, participants []models.Participant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", data.Description, models.FormatAmount(data.TotalAmount, data.Currency))
	for _, p := range participants {
		fmt.Fprintf(&b, "- %s: %s\n", p.Name, models.FormatAmount(p.AmountOwed, data.Currency))
	}
	return strings.TrimRight(b.String(), "\n")
}
