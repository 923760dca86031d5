// Package extract turns raw bill input (text, voice transcripts, image
// captions) into structured bill data using the OpenAI API.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/splitkaro/billpipe/internal/models"
)

// Extraction errors.
var (
	ErrNoAPIKey     = errors.New("OPENAI_API_KEY not set")
	ErrNoBillFound  = errors.New("no bill information found in input")
	ErrEmptyChoices = errors.New("no choices returned")
)

const extractionSystemPrompt = `You are a bill parsing assistant. Extract bill information from the user's message and reply with ONLY a JSON object, no prose and no code fences, in this shape:
{"total_amount": <number in rupees>, "description": "<short description>", "currency": "INR", "merchant": "<merchant name or empty>", "items": [{"name": "<item>", "amount": <number in rupees>, "quantity": <int>}]}
If the message contains no bill or amount, reply with exactly {"total_amount": 0}.`

// Extractor produces structured bill data from an inbound message.
type Extractor interface {
	ExtractBill(ctx context.Context, msg models.Message) (models.BillData, error)
}

// chatService defines the minimal chat completion surface, for mocking.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIExtractor implements Extractor using OpenAI chat completions.
type OpenAIExtractor struct {
	chat  chatService
	model openai.ChatModel
}

// NewOpenAIExtractor initializes an extractor using the OPENAI_API_KEY
// environment variable.
func NewOpenAIExtractor() (*OpenAIExtractor, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIExtractor{chat: &cli.Chat.Completions, model: openai.ChatModelGPT4oMini}, nil
}

// ExtractBill sends the message content to the model and parses the JSON
// reply into bill data. Amounts come back in rupees and are converted to
// paise before validation.
func (e *OpenAIExtractor) ExtractBill(ctx context.Context, msg models.Message) (models.BillData, error) {
	slog.Debug("OpenAIExtractor ExtractBill invoked", "user_id", msg.UserID, "message_type", msg.MessageType)

	resp, err := e.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: e.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(extractionSystemPrompt),
			openai.UserMessage(msg.Content),
		},
	})
	if err != nil {
		slog.Error("OpenAIExtractor completion failed", "error", err, "user_id", msg.UserID)
		return models.BillData{}, fmt.Errorf("bill extraction api call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.BillData{}, ErrEmptyChoices
	}

	data, err := parseExtractionReply(resp.Choices[0].Message.Content)
	if err != nil {
		slog.Error("OpenAIExtractor failed to parse reply", "error", err, "user_id", msg.UserID)
		return models.BillData{}, err
	}
	slog.Info("OpenAIExtractor extracted bill", "user_id", msg.UserID, "total_amount", data.TotalAmount)
	return data, nil
}

// extractionReply is the model's JSON reply, amounts in rupees.
type extractionReply struct {
	TotalAmount float64 `json:"total_amount"`
	Description string  `json:"description"`
	Currency    string  `json:"currency"`
	Merchant    string  `json:"merchant"`
	Items       []struct {
		Name     string  `json:"name"`
		Amount   float64 `json:"amount"`
		Quantity int     `json:"quantity"`
	} `json:"items"`
}

func parseExtractionReply(raw string) (models.BillData, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var reply extractionReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return models.BillData{}, fmt.Errorf("failed to parse extraction reply: %w", err)
	}
	if reply.TotalAmount <= 0 {
		return models.BillData{}, ErrNoBillFound
	}

	data := models.BillData{
		TotalAmount: rupeesToPaise(reply.TotalAmount),
		Description: reply.Description,
		Currency:    reply.Currency,
		Merchant:    reply.Merchant,
	}
	if data.Currency == "" {
		data.Currency = "INR"
	}
	if data.Description == "" {
		data.Description = "Bill"
	}
	for _, item := range reply.Items {
		data.Items = append(data.Items, models.BillItem{
			Name:     item.Name,
			Amount:   rupeesToPaise(item.Amount),
			Quantity: item.Quantity,
		})
	}
	if err := data.Validate(); err != nil {
		return models.BillData{}, fmt.Errorf("extracted bill failed validation: %w", err)
	}
	return data, nil
}

// rupeesToPaise converts a rupee amount to paise, rounding half away from
// zero to absorb float noise in the model's reply.
func rupeesToPaise(rupees float64) int64 {
	return int64(math.Round(rupees * 100))
}
