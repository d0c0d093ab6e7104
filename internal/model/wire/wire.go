// Package wire defines the JSON message shapes exchanged with the
// browser client. Every frame carries a "type" discriminator; unknown
// types are discarded by the consumer with a warning.
package wire

import "encoding/json"

// Inbound message types.
const (
	TypeLanguage   = "language"
	TypeMessage    = "message"
	TypeTyping     = "typing"
	TypeStopTyping = "stopTyping"
	TypeEndChat    = "endChat"
	TypeSurvey     = "survey"
)

// Inbound is the envelope for every client-originated frame. Fields
// beyond Type are populated depending on the discriminator.
type Inbound struct {
	Type string `json:"type"`

	// message
	Text string `json:"text,omitempty"`

	// language (intake)
	Language      string `json:"language,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`

	// presurvey ratings sent with the language frame. Older clients used
	// question1..question3 for the same three ratings.
	QualityRating        json.RawMessage `json:"qualityRating,omitempty"`
	SeamlessRating       json.RawMessage `json:"seamlessRating,omitempty"`
	TranslationeseRating json.RawMessage `json:"translationeseRating,omitempty"`
	Question1            json.RawMessage `json:"question1,omitempty"`
	Question2            json.RawMessage `json:"question2,omitempty"`
	Question3            json.RawMessage `json:"question3,omitempty"`
}

// Presurvey normalizes the intake ratings to their canonical keys,
// accepting the legacy question1..3 aliases.
func (in Inbound) Presurvey() json.RawMessage {
	quality := firstRaw(in.QualityRating, in.Question1)
	seamless := firstRaw(in.SeamlessRating, in.Question2)
	translationese := firstRaw(in.TranslationeseRating, in.Question3)

	payload, err := json.Marshal(map[string]json.RawMessage{
		"qualityRating":        quality,
		"seamlessRating":       seamless,
		"translationeseRating": translationese,
	})
	if err != nil {
		return json.RawMessage("{}")
	}
	return payload
}

func firstRaw(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		if len(v) > 0 {
			return v
		}
	}
	return json.RawMessage("null")
}

// Outbound payload builders. The server speaks the same loosely typed
// dialect the browser expects, so payloads stay map-shaped.

// Paired tells both participants the match committed.
func Paired(conversationID int64, prompt string) map[string]any {
	return map[string]any{
		"type":            "paired",
		"message":         "You are now paired. Start chatting!",
		"conversation_id": conversationID,
		"prompt":          prompt,
	}
}

// Timer carries the remaining whole seconds of the conversation.
func Timer(remaining int) map[string]any {
	return map[string]any{
		"type":           "timer",
		"remaining_time": remaining,
	}
}

// Expired announces natural end of the conversation countdown.
func Expired(conversationID int64) map[string]any {
	return map[string]any{
		"type":            "expired",
		"conversation_id": conversationID,
		"message":         "Chat timer has expired.",
	}
}

// SurveyPrompt asks a participant to fill the post-session survey.
func SurveyPrompt(conversationID int64) map[string]any {
	return map[string]any{
		"type":            "survey",
		"conversation_id": conversationID,
		"message":         "The conversation has ended. Please complete the survey.",
	}
}

// SurveyCompleted acknowledges a stored (or duplicate) survey submission.
func SurveyCompleted(conversationID int64) map[string]any {
	return map[string]any{
		"type":            "surveyCompleted",
		"conversation_id": conversationID,
	}
}

// Typing relays the partner's typing status, "typing" or "stopped".
func Typing(status string) map[string]any {
	return map[string]any{
		"type":   "typing",
		"status": status,
	}
}

// Message delivers a (possibly translated) chat turn.
func Message(text string) map[string]any {
	return map[string]any{
		"type": "message",
		"text": text,
	}
}

// WaitingRoomTimeout tells a participant no partner could be found.
func WaitingRoomTimeout() map[string]any {
	return map[string]any{
		"type":    "waitingRoomTimeout",
		"message": "Could not find a chat partner. Try again later!",
	}
}

// Info carries a free-form notice, e.g. that the partner disconnected.
func Info(message string) map[string]any {
	return map[string]any{
		"type":    "info",
		"message": message,
	}
}

// Error reports a protocol-level problem back to the sender.
func Error(message string) map[string]any {
	return map[string]any{
		"type":    "error",
		"message": message,
	}
}
