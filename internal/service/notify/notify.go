// Package notify pushes waiting-room overflow events to the recruitment
// platform's webhook so unmatched participants can be compensated.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"
)

// Notifier posts overflow notifications. Delivery is best effort:
// failures are logged and never surface to the matcher.
type Notifier struct {
	url    string
	client *http.Client
}

// New builds a notifier for the webhook URL. An empty URL yields a
// disabled notifier that drops every call.
func New(webhookURL string) *Notifier {
	return &Notifier{
		url:    webhookURL,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

type overflowPayload struct {
	ParticipantID string    `json:"participantId"`
	Reason        string    `json:"reason"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// NotifyOverflow reports that a participant could not be matched before
// the deadline.
func (n *Notifier) NotifyOverflow(ctx context.Context, participantID string) {
	if n.url == "" {
		return
	}

	body, err := json.Marshal(overflowPayload{
		ParticipantID: participantID,
		Reason:        "waiting_room_timeout",
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[notify] marshal overflow payload: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		log.Printf("[notify] build overflow request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		log.Printf("[notify] overflow webhook for participant=%s: %v", participantID, err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		log.Printf("[notify] overflow webhook for participant=%s returned %d", participantID, resp.StatusCode)
	}
}
