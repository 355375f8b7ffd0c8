package events

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"mail-ingestor/internal/models"
)

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("invalid JSON %s: %v", data, err)
	}
	return out
}

func TestMarshal(t *testing.T) {
	sent := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := &models.NormalizedMessage{
		RemoteID:    "2",
		Subject:     "Hello World",
		FromAddress: "john@example.com",
		SentAt:      &sent,
		ReceivedAt:  sent,
		Body:        strings.Repeat("é", 80),
		Attachments: []models.AttachmentRef{{Filename: "a.pdf", Location: "m/1-a.pdf"}},
	}

	tests := []struct {
		name     string
		event    models.SyncEvent
		expected map[string]interface{}
	}{
		{
			name:  "Error",
			event: models.ErrorEvent("a@example.com", "7", "fetch timed out"),
			expected: map[string]interface{}{
				"type":      "error",
				"account":   "a@example.com",
				"remote_id": "7",
				"error":     "An error occurred for account a@example.com: fetch timed out",
			},
		},
		{
			name:  "Account complete without new messages",
			event: models.AccountComplete("a@example.com", 0),
			expected: map[string]interface{}{
				"type":    "account_complete",
				"account": "a@example.com",
				"message": "No new messages for account a@example.com.",
			},
		},
		{
			name:  "Account complete after fetching",
			event: models.AccountComplete("a@example.com", 3),
			expected: map[string]interface{}{
				"type":    "account_complete",
				"account": "a@example.com",
				"message": "Fetched 3 new message(s) for account a@example.com.",
			},
		},
		{
			name:     "All complete",
			event:    models.AllComplete(),
			expected: map[string]interface{}{"type": "all_complete"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(tt.event)
			if err != nil {
				t.Fatalf("Marshal() error: %v", err)
			}
			got := decode(t, data)
			if len(got) != len(tt.expected) {
				t.Errorf("Marshal() = %s, want keys %v", data, tt.expected)
			}
			for k, v := range tt.expected {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
		})
	}

	t.Run("Progress", func(t *testing.T) {
		data, err := Marshal(models.Progress("a@example.com", 1, 3, msg))
		if err != nil {
			t.Fatalf("Marshal() error: %v", err)
		}
		got := decode(t, data)

		if got["type"] != "progress" || got["processed"] != float64(1) || got["total"] != float64(3) {
			t.Errorf("Unexpected progress header: %s", data)
		}
		if got["progress"] != float64(33) {
			t.Errorf("progress = %v, want 33", got["progress"])
		}

		email, ok := got["email"].(map[string]interface{})
		if !ok {
			t.Fatalf("Missing email payload: %s", data)
		}
		if email["subject"] != "Hello World" {
			t.Errorf("email.subject = %v", email["subject"])
		}
		if body, _ := email["body"].(string); len([]rune(body)) != bodyPreviewLength {
			t.Errorf("email.body has %d runes, want %d", len([]rune(body)), bodyPreviewLength)
		}
		atts, _ := email["attachments"].([]interface{})
		if len(atts) != 1 {
			t.Fatalf("Expected 1 attachment, got %v", email["attachments"])
		}
		if att := atts[0].(map[string]interface{}); att["filename"] != "a.pdf" || att["url"] != "m/1-a.pdf" {
			t.Errorf("Unexpected attachment payload %v", att)
		}
	})
}

func TestPercent(t *testing.T) {
	tests := []struct {
		processed, total, expected int
	}{
		{1, 2, 50},
		{2, 2, 100},
		{1, 3, 33},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := Percent(tt.processed, tt.total); got != tt.expected {
			t.Errorf("Percent(%d, %d) = %d, want %d", tt.processed, tt.total, got, tt.expected)
		}
	}
}

// MockPublisher records publishes
type MockPublisher struct {
	subjects []string
	ids      []string
	err      error
}

func (m *MockPublisher) Publish(subject string, payload []byte, msgID string) error {
	if m.err != nil {
		return m.err
	}
	m.subjects = append(m.subjects, subject)
	m.ids = append(m.ids, msgID)
	return nil
}

func TestNATSSink(t *testing.T) {
	pub := &MockPublisher{}
	sink := NewNATSSink(pub, "mailsync.events")

	ev := models.ErrorEvent("a@example.com", "9", "boom")
	ev.RunID = "run-1"
	if err := sink.Emit(ev); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	final := models.AllComplete()
	final.RunID = "run-1"
	if err := sink.Emit(final); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}

	wantSubjects := []string{"mailsync.events.error", "mailsync.events.all_complete"}
	for i, want := range wantSubjects {
		if pub.subjects[i] != want {
			t.Errorf("subject[%d] = %q, want %q", i, pub.subjects[i], want)
		}
	}
	if pub.ids[0] != "run-1:error:a@example.com:9" {
		t.Errorf("msg id = %q", pub.ids[0])
	}
	if pub.ids[0] == pub.ids[1] {
		t.Error("Expected distinct msg ids per event")
	}
}

func TestChanSink(t *testing.T) {
	ch := make(chan models.SyncEvent, 1)
	done := make(chan struct{})
	sink := ChanSink{C: ch, Done: done}

	if err := sink.Emit(models.AllComplete()); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if ev := <-ch; ev.Type != models.EventAllComplete {
		t.Errorf("received %v, want all_complete", ev.Type)
	}

	close(done)
	// fill the buffer so only Done can proceed
	ch <- models.AllComplete()
	if err := sink.Emit(models.AllComplete()); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Emit() after close error = %v, want ErrSinkClosed", err)
	}
}

func TestMultiSink(t *testing.T) {
	var got []models.EventType
	recording := SinkFunc(func(ev models.SyncEvent) error {
		got = append(got, ev.Type)
		return nil
	})
	failing := SinkFunc(func(ev models.SyncEvent) error { return errors.New("down") })

	sink := MultiSink{failing, recording, LogSink{}}
	err := sink.Emit(models.AccountComplete("a@example.com", 0))
	if err == nil {
		t.Error("Expected the failing sink error to be reported")
	}
	if len(got) != 1 || got[0] != models.EventAccountComplete {
		t.Errorf("Expected delivery to continue past a failing sink, got %v", got)
	}
}
