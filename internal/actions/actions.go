// Package actions extracts proposed actions from model output and executes
// the approved ones against the workspace.
package actions

import "encoding/json"

// ActionRequest is one action proposed by the model. Payload stays a loose
// map at this boundary; each handler converts it to a typed form before
// touching anything.
type ActionRequest struct {
	ID                   string         `json:"id"`
	Type                 string         `json:"type"`
	Title                string         `json:"title,omitempty"`
	RequiresUserApproval bool           `json:"requiresUserApproval"`
	Payload              map[string]any `json:"payload"`
	// HumanSteps lists manual steps the user must perform for flows the
	// system cannot automate (login, 2FA, captcha, consent).
	HumanSteps []string `json:"humanSteps,omitempty"`
}

// UnmarshalJSON treats a missing requiresUserApproval as true. An action only
// skips approval when the model said so explicitly.
func (a *ActionRequest) UnmarshalJSON(data []byte) error {
	type alias ActionRequest
	aux := struct {
		RequiresUserApproval *bool `json:"requiresUserApproval"`
		*alias
	}{alias: (*alias)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	a.RequiresUserApproval = aux.RequiresUserApproval == nil || *aux.RequiresUserApproval
	return nil
}

// Action types the executor dispatches on.
const (
	TypeCreateTask          = "createTask"
	TypeUpdateTask          = "updateTask"
	TypeDeleteTask          = "deleteTask"
	TypeCreateGoal          = "createGoal"
	TypeCompleteGoal        = "completeGoal"
	TypeUpdateGoal          = "updateGoal"
	TypeCreateCalendarEvent = "createCalendarEvent"
	TypeCreateReminder      = "createReminder"
	TypeCompleteReminder    = "completeReminder"
	TypeSendEmail           = "sendEmail"
	TypeWebTask             = "webTask"
)

// safeTypes is the global allow-list of action types eligible for automatic
// execution. Deletion, outbound email, and web tasks always need a human.
var safeTypes = map[string]bool{
	TypeCreateTask:          true,
	TypeUpdateTask:          true,
	TypeCreateGoal:          true,
	TypeCompleteGoal:        true,
	TypeUpdateGoal:          true,
	TypeCreateCalendarEvent: true,
	TypeCreateReminder:      true,
	TypeCompleteReminder:    true,
}

// IsSafeType reports whether the action type is on the global allow-list.
func IsSafeType(actionType string) bool {
	return safeTypes[actionType]
}

// AutoExecutable reports whether an action may run without user approval for
// a task with the given allowed types. All three gates must pass: the global
// allow-list, the task's own allow-list, and the action's own approval flag.
func AutoExecutable(a ActionRequest, allowedTypes []string) bool {
	if a.RequiresUserApproval || !IsSafeType(a.Type) {
		return false
	}
	for _, allowed := range allowedTypes {
		if allowed == a.Type {
			return true
		}
	}
	return false
}
