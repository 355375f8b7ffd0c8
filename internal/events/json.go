package events

import (
	"encoding/json"
	"fmt"
	"time"

	"mail-ingestor/internal/models"
)

const bodyPreviewLength = 50

type attachmentPayload struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

type emailPayload struct {
	Subject     string              `json:"subject"`
	FromAddress string              `json:"from_address"`
	SentAt      *time.Time          `json:"sent_at"`
	ReceivedAt  time.Time           `json:"received_at"`
	Body        string              `json:"body"`
	Attachments []attachmentPayload `json:"attachments"`
}

type payload struct {
	Type      string        `json:"type"`
	Account   string        `json:"account,omitempty"`
	Processed *int          `json:"processed,omitempty"`
	Total     *int          `json:"total,omitempty"`
	Progress  *int          `json:"progress,omitempty"`
	Email     *emailPayload `json:"email,omitempty"`
	RemoteID  string        `json:"remote_id,omitempty"`
	Error     string        `json:"error,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// Marshal renders ev in the JSON shape consumed by stream clients.
func Marshal(ev models.SyncEvent) ([]byte, error) {
	p := payload{Type: ev.Type.String(), Account: ev.Account}

	switch ev.Type {
	case models.EventProgress:
		processed, total := ev.Processed, ev.Total
		percent := Percent(processed, total)
		p.Processed, p.Total, p.Progress = &processed, &total, &percent
		if ev.Message != nil {
			p.Email = newEmailPayload(ev.Message)
		}
	case models.EventError:
		p.RemoteID = ev.RemoteID
		p.Error = fmt.Sprintf("An error occurred for account %s: %s", ev.Account, ev.Err)
	case models.EventAccountComplete:
		if ev.Total == 0 {
			p.Message = fmt.Sprintf("No new messages for account %s.", ev.Account)
		} else {
			p.Message = fmt.Sprintf("Fetched %d new message(s) for account %s.", ev.Total, ev.Account)
		}
	case models.EventAllComplete:
	default:
		return nil, fmt.Errorf("unknown event type %d", ev.Type)
	}

	return json.Marshal(p)
}

// Percent is processed/total as a whole percentage; zero when total is zero.
func Percent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	return processed * 100 / total
}

func newEmailPayload(m *models.NormalizedMessage) *emailPayload {
	e := &emailPayload{
		Subject:     m.Subject,
		FromAddress: m.FromAddress,
		SentAt:      m.SentAt,
		ReceivedAt:  m.ReceivedAt,
		Body:        preview(m.Body, bodyPreviewLength),
		Attachments: make([]attachmentPayload, 0, len(m.Attachments)),
	}
	for _, a := range m.Attachments {
		e.Attachments = append(e.Attachments, attachmentPayload{Filename: a.Filename, URL: a.Location})
	}
	return e
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
