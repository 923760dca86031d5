package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/splitkaro/billpipe/internal/models"
)

func TestParseExtractionReply(t *testing.T) {
	data, err := parseExtractionReply(`{"total_amount": 1200.50, "description": "Dinner at Cafe", "currency": "INR", "merchant": "Cafe", "items": [{"name": "Pizza", "amount": 800, "quantity": 1}]}`)
	if err != nil {
		t.Fatalf("parseExtractionReply failed: %v", err)
	}
	if data.TotalAmount != 120050 {
		t.Errorf("Expected 120050 paise, got %d", data.TotalAmount)
	}
	if data.Description != "Dinner at Cafe" || data.Merchant != "Cafe" {
		t.Errorf("Unexpected bill data %+v", data)
	}
	if len(data.Items) != 1 || data.Items[0].Amount != 80000 {
		t.Errorf("Expected item amount converted to paise, got %+v", data.Items)
	}
}

func TestParseExtractionReplyStripsCodeFences(t *testing.T) {
	data, err := parseExtractionReply("```json\n{\"total_amount\": 500, \"description\": \"Lunch\"}\n```")
	if err != nil {
		t.Fatalf("parseExtractionReply failed: %v", err)
	}
	if data.TotalAmount != 50000 {
		t.Errorf("Expected 50000 paise, got %d", data.TotalAmount)
	}
}

func TestParseExtractionReplyDefaults(t *testing.T) {
	data, err := parseExtractionReply(`{"total_amount": 100}`)
	if err != nil {
		t.Fatalf("parseExtractionReply failed: %v", err)
	}
	if data.Currency != "INR" {
		t.Errorf("Expected INR default, got %q", data.Currency)
	}
	if data.Description != "Bill" {
		t.Errorf("Expected Bill default description, got %q", data.Description)
	}
}

func TestParseExtractionReplyNoBill(t *testing.T) {
	if _, err := parseExtractionReply(`{"total_amount": 0}`); !errors.Is(err, ErrNoBillFound) {
		t.Errorf("Expected ErrNoBillFound for zero amount, got %v", err)
	}
}

func TestParseExtractionReplyInvalidJSON(t *testing.T) {
	if _, err := parseExtractionReply("sorry, I cannot parse that"); err == nil {
		t.Error("Expected parse error for non JSON reply")
	}
}

func TestRupeesToPaise(t *testing.T) {
	tests := []struct {
		rupees float64
		want   int64
	}{
		{500, 50000},
		{500.50, 50050},
		{0.99, 99},
		{33.335, 3334},
	}
	for _, tt := range tests {
		if got := rupeesToPaise(tt.rupees); got != tt.want {
			t.Errorf("rupeesToPaise(%v) = %d, want %d", tt.rupees, got, tt.want)
		}
	}
}

// fakeChat returns a canned completion or error.
type fakeChat struct {
	reply string
	err   error
}

func (f *fakeChat) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

func TestOpenAIExtractorExtractBill(t *testing.T) {
	e := &OpenAIExtractor{
		chat:  &fakeChat{reply: `{"total_amount": 750, "description": "Groceries"}`},
		model: openai.ChatModelGPT4oMini,
	}

	data, err := e.ExtractBill(context.Background(), models.Message{UserID: "u1", Content: "groceries 750"})
	if err != nil {
		t.Fatalf("ExtractBill failed: %v", err)
	}
	if data.TotalAmount != 75000 || data.Description != "Groceries" {
		t.Errorf("Unexpected bill data %+v", data)
	}
}

func TestOpenAIExtractorAPIError(t *testing.T) {
	e := &OpenAIExtractor{chat: &fakeChat{err: errors.New("rate limited")}}
	if _, err := e.ExtractBill(context.Background(), models.Message{Content: "dinner 500"}); err == nil {
		t.Error("Expected API error to propagate")
	}
}

type emptyChoicesChat struct{}

func (emptyChoicesChat) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	return &openai.ChatCompletion{}, nil
}

func TestOpenAIExtractorEmptyChoices(t *testing.T) {
	e := &OpenAIExtractor{chat: emptyChoicesChat{}}
	if _, err := e.ExtractBill(context.Background(), models.Message{Content: "dinner 500"}); !errors.Is(err, ErrEmptyChoices) {
		t.Errorf("Expected ErrEmptyChoices, got %v", err)
	}
}

func TestNewOpenAIExtractorRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewOpenAIExtractor(); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("Expected ErrNoAPIKey, got %v", err)
	}
}

// New has a pointer receiver on openai.ChatCompletionService, so the seam
// must hold the pointer.
var _ chatService = &openai.ChatCompletionService{}

func TestNewOpenAIExtractorWiresClient(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	e, err := NewOpenAIExtractor()
	if err != nil {
		t.Fatalf("NewOpenAIExtractor failed: %v", err)
	}
	if e.chat == nil {
		t.Error("Expected chat service to be wired")
	}
	if e.model != openai.ChatModelGPT4oMini {
		t.Errorf("Unexpected model %q", e.model)
	}
}
