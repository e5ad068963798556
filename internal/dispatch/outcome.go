package dispatch

import "fmt"

const (
	// ReasonNetwork is the failure reason when the backend could not be reached
	ReasonNetwork = "network"

	// ReasonUnknown is the failure reason when the backend rejected the message
	// without saying why, or when the request could not be built
	ReasonUnknown = "unknown"
)

// Outcome is the result of a single dispatch. Exactly one of ServerMessage or
// Reason is meaningful, selected by OK.
type Outcome struct {
	OK            bool
	ServerMessage string
	Reason        string
	// FailedChats lists the chats the backend could not deliver to on an
	// otherwise successful send
	FailedChats []string
}

// Partial reports whether the backend accepted the message but some chats did not get it
func (o Outcome) Partial() bool {
	return o.OK && len(o.FailedChats) > 0
}

// Success builds a successful Outcome
func Success(serverMessage string) Outcome {
	return Outcome{OK: true, ServerMessage: serverMessage}
}

// Failure builds a failed Outcome
func Failure(reason string) Outcome {
	return Outcome{Reason: reason}
}

func (o Outcome) String() string {
	if o.Partial() {
		return fmt.Sprintf("partial: %s (%d chats failed)", o.ServerMessage, len(o.FailedChats))
	}
	if o.OK {
		return "success: " + o.ServerMessage
	}
	return "failure: " + o.Reason
}
