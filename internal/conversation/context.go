package conversation

import (
	"encoding/json"
	"fmt"

	"github.com/splitkaro/billpipe/internal/models"
)

// Structured values live in the string context as JSON. These helpers keep
// the marshalling in one place so handlers stay readable.

func billDataFromContext(state *models.ConversationState) (models.BillData, error) {
	raw, ok := state.Context[models.ContextKeyBillData]
	if !ok || raw == "" {
		return models.BillData{}, fmt.Errorf("context missing %s: %w", models.ContextKeyBillData, models.ErrIncompleteContext)
	}
	var data models.BillData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return models.BillData{}, fmt.Errorf("failed to decode bill data from context: %w", err)
	}
	return data, nil
}

func billDataToContext(data models.BillData) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode bill data: %w", err)
	}
	return string(raw), nil
}

func participantsFromContext(state *models.ConversationState) ([]models.Participant, error) {
	raw, ok := state.Context[models.ContextKeyParticipants]
	if !ok || raw == "" {
		return nil, fmt.Errorf("context missing %s: %w", models.ContextKeyParticipants, models.ErrIncompleteContext)
	}
	var participants []models.Participant
	if err := json.Unmarshal([]byte(raw), &participants); err != nil {
		return nil, fmt.Errorf("failed to decode participants from context: %w", err)
	}
	return participants, nil
}

func participantsToContext(participants []models.Participant) (string, error) {
	raw, err := json.Marshal(participants)
	if err != nil {
		return "", fmt.Errorf("failed to encode participants: %w", err)
	}
	return string(raw), nil
}
