package conversation

import (
	"strings"

	"github.com/splitkaro/billpipe/internal/models"
)

var resetCommands = []string{"reset", "start over", "restart", "begin again", "new bill"}

var helpCommands = []string{"help", "?", "what can you do", "commands"}

var yesIndicators = []string{
	"yes", "y", "ok", "okay", "confirm", "confirmed", "correct",
	"right", "good", "looks good", "perfect", "proceed", "go ahead", "sure",
}

var noIndicators = []string{
	"no", "n", "nope", "wrong", "incorrect", "change",
	"modify", "adjust", "different", "not right", "redo",
}

func isResetCommand(content string) bool {
	return matchesCommand(content, resetCommands)
}

func isHelpCommand(content string) bool {
	return matchesCommand(content, helpCommands)
}

func matchesCommand(content string, commands []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(content))
	for _, cmd := range commands {
		if normalized == cmd {
			return true
		}
	}
	return false
}

// isConfirmationYes matches whole words so "no good" does not read as yes.
func isConfirmationYes(content string) bool {
	return matchesIndicator(content, yesIndicators) && !matchesIndicator(content, noIndicators)
}

func isConfirmationNo(content string) bool {
	return matchesIndicator(content, noIndicators)
}

func matchesIndicator(content string, indicators []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(content))
	for _, ind := range indicators {
		if normalized == ind {
			return true
		}
		if strings.Contains(" "+normalized+" ", " "+ind+" ") {
			return true
		}
	}
	return false
}

// resetResult builds the standard reset-to-start StepResult used by every
// handler when the user asks to start over.
func resetResult() StepResult {
	return StepResult{
		Response: models.NewTextResponse("No problem, let's start over! Please send me your bill information - you can type the details, send a photo of the bill, or record a voice message."),
		NextStep: models.StepInitial,
		ContextUpdates: map[string]string{
			"reset": "true",
		},
	}
}
