package chat

import "time"

// Condition labels which experimental arm a conversation belongs to.
const (
	ConditionExperiment = "experiment"
	ConditionControl    = "control"
)

// Dyad is a committed pair of matched participants sharing one
// conversation identifier. It is created atomically at pairing time and
// lives until session teardown.
type Dyad struct {
	ConversationID int64       `json:"conversationId"`
	Condition      string      `json:"condition"`
	StarterIndex   int         `json:"starterIndex"`
	A              Participant `json:"a"`
	B              Participant `json:"b"`
	CreatedAt      time.Time   `json:"createdAt"`
}
