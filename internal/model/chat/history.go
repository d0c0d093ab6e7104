package chat

import "time"

// HistoryEntry records one relayed turn for later analysis: the sender,
// the original text, what the receiver actually saw, and the language the
// original text was detected as.
type HistoryEntry struct {
	Sender       string    `json:"sender"`
	Text         string    `json:"text"`
	Translation  string    `json:"translation"`
	DetectedLang string    `json:"detectedLang,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
