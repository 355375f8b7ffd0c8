package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	MessagesIngested.WithLabelValues("metrics@example.com").Add(2)
	FetchFailures.WithLabelValues("metrics@example.com").Inc()
	AccountAborts.WithLabelValues("metrics@example.com", "connection").Inc()

	if got := testutil.ToFloat64(MessagesIngested.WithLabelValues("metrics@example.com")); got != 2 {
		t.Errorf("MessagesIngested = %v, want 2", got)
	}
	if got := testutil.ToFloat64(FetchFailures.WithLabelValues("metrics@example.com")); got != 1 {
		t.Errorf("FetchFailures = %v, want 1", got)
	}

	expected := `
# HELP mailsync_account_aborts_total Account runs aborted before completion.
# TYPE mailsync_account_aborts_total counter
mailsync_account_aborts_total{account="metrics@example.com",kind="connection"} 1
`
	if err := testutil.CollectAndCompare(AccountAborts, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected AccountAborts output: %v", err)
	}
}
