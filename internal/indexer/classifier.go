// File: internal/indexer/classifier.go
package indexer

import (
	"strings"

	"github.com/silk-labs/silk-indexer/internal/models"
)

// instructionEvents maps program instruction names, as they appear in log
// messages, to the event types they produce. TogglePause maps to the
// provisional pause marker; its direction is resolved against post-transaction
// account state.
var instructionEvents = map[string]models.EventType{
	"CreateAccount":       models.EventAccountCreated,
	"CloseAccount":        models.EventAccountClosed,
	"Deposit":             models.EventDeposit,
	"TransferFromAccount": models.EventTransfer,
	"AddOperator":         models.EventOperatorAdded,
	"RemoveOperator":      models.EventOperatorRemoved,
	"TogglePause":         models.EventPauseChanged,
}

const (
	logProgramPrefix     = "Program "
	logInvokeMarker      = " invoke ["
	logSuccessSuffix     = " success"
	logFailedMarker      = " failed"
	logInstructionPrefix = "Program log: Instruction: "
)

// Classifier turns raw transaction log messages into the ordered list of
// events attributable to one program.
type Classifier struct {
	programID string
}

// NewClassifier creates a classifier for the given program ID
func NewClassifier(programID string) *Classifier {
	return &Classifier{programID: programID}
}

// Classify scans log messages and returns the events emitted by the target
// program, in log order. Instruction lines are attributed to the innermost
// currently-executing program, so instructions of nested inner-program
// invocations are never misattributed and instructions of our program survive
// when it is itself invoked as an inner program. Unknown instruction names
// and malformed lines are ignored.
func (c *Classifier) Classify(logs []string) []models.EventType {
	var events []models.EventType
	var stack []string

	for _, line := range logs {
		if name, ok := parseInstruction(line); ok {
			if len(stack) > 0 && stack[len(stack)-1] == c.programID {
				if event, known := instructionEvents[name]; known {
					events = append(events, event)
				}
			}
			continue
		}

		if id, ok := parseInvoke(line); ok {
			stack = append(stack, id)
			continue
		}

		if parseCompletion(line) && len(stack) > 0 {
			stack = stack[:len(stack)-1]
		}
	}
	return events
}

// parseInstruction extracts the instruction name from a
// "Program log: Instruction: Name" line.
func parseInstruction(line string) (string, bool) {
	if !strings.HasPrefix(line, logInstructionPrefix) {
		return "", false
	}
	name := strings.TrimSpace(strings.TrimPrefix(line, logInstructionPrefix))
	if name == "" {
		return "", false
	}
	return name, true
}

// parseInvoke extracts the program ID from a "Program <id> invoke [n]" line.
func parseInvoke(line string) (string, bool) {
	if !strings.HasPrefix(line, logProgramPrefix) {
		return "", false
	}
	rest := strings.TrimPrefix(line, logProgramPrefix)
	idx := strings.Index(rest, logInvokeMarker)
	if idx <= 0 {
		return "", false
	}
	id := rest[:idx]
	if strings.ContainsRune(id, ' ') {
		return "", false
	}
	return id, true
}

// parseCompletion reports whether line marks the end of a program invocation,
// either "Program <id> success" or "Program <id> failed: <reason>".
func parseCompletion(line string) bool {
	if !strings.HasPrefix(line, logProgramPrefix) {
		return false
	}
	rest := strings.TrimPrefix(line, logProgramPrefix)
	if strings.HasSuffix(rest, logSuccessSuffix) {
		return !strings.Contains(strings.TrimSuffix(rest, logSuccessSuffix), " ")
	}
	idx := strings.Index(rest, logFailedMarker)
	if idx <= 0 {
		return false
	}
	return !strings.Contains(rest[:idx], " ")
}
