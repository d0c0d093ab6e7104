package chat

import "time"

// Participant identifies one anonymous chat partner. The ID is stable for
// the lifetime of the connection and may be caller-supplied (recruitment
// platform id) or server-generated.
type Participant struct {
	ID       string    `json:"id"`
	Language string    `json:"language"`
	JoinedAt time.Time `json:"joinedAt"`
}
