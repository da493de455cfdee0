package enums

import "fmt"

// AgentResponse records how an agent (or the system on their behalf)
// answered a delivery offer. Timeout and offline values only appear in
// assignment history entries, never on the live order.
type AgentResponse string

const (
	AgentResponsePending     AgentResponse = "pending"
	AgentResponseAccepted    AgentResponse = "accepted"
	AgentResponseRejected    AgentResponse = "rejected"
	AgentResponseTimeout     AgentResponse = "timeout"
	AgentResponseWentOffline AgentResponse = "agent_went_offline"
)

var validAgentResponses = []AgentResponse{
	AgentResponsePending,
	AgentResponseAccepted,
	AgentResponseRejected,
	AgentResponseTimeout,
	AgentResponseWentOffline,
}

// String implements fmt.Stringer.
func (a AgentResponse) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AgentResponse.
func (a AgentResponse) IsValid() bool {
	for _, candidate := range validAgentResponses {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAgentResponse converts raw input into an AgentResponse.
func ParseAgentResponse(value string) (AgentResponse, error) {
	for _, candidate := range validAgentResponses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid agent response %q", value)
}
