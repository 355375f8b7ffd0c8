package main

import (
	"testing"
	"time"

	"mail-ingestor/internal/models"
)

func TestHandleRunFailure(t *testing.T) {
	runFailureCount.Store(0)
	t.Cleanup(func() { runFailureCount.Store(0) })

	interval := time.Minute
	expected := []time.Duration{
		interval, interval, interval, interval,
		5 * time.Minute,
		10 * time.Minute,
		20 * time.Minute,
		failureSleepDuration,
		failureSleepDuration,
	}

	for i, want := range expected {
		if got := handleRunFailure(interval); got != want {
			t.Errorf("failure %d: wait = %v, want %v", i+1, got, want)
		}
	}
}

func TestRunOutcome(t *testing.T) {
	tests := []struct {
		name     string
		events   []models.SyncEvent
		expected bool
	}{
		{
			name: "Every account aborted",
			events: []models.SyncEvent{
				models.ErrorEvent("a@example.com", "", "connection failure"),
				models.ErrorEvent("b@example.com", "", "connection failure"),
				models.AllComplete(),
			},
			expected: true,
		},
		{
			name: "One account completed",
			events: []models.SyncEvent{
				models.ErrorEvent("a@example.com", "", "connection failure"),
				models.AccountComplete("b@example.com", 0),
			},
			expected: false,
		},
		{
			name: "Only per-message errors",
			events: []models.SyncEvent{
				models.ErrorEvent("a@example.com", "3", "fetch failure"),
				models.AccountComplete("a@example.com", 0),
			},
			expected: false,
		},
		{
			name:     "No accounts",
			events:   []models.SyncEvent{models.AllComplete()},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &runOutcome{}
			for _, ev := range tt.events {
				_ = o.Emit(ev)
			}
			if got := o.allAborted(); got != tt.expected {
				t.Errorf("allAborted() = %v, want %v", got, tt.expected)
			}
		})
	}
}
