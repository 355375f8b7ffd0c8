package syncer

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mail-ingestor/internal/events"
	"mail-ingestor/internal/logging"
	"mail-ingestor/internal/models"
)

// Orchestrator runs one Synchronizer per account concurrently and forwards their events to a sink.
type Orchestrator struct {
	synchronizer *Synchronizer
}

func NewOrchestrator(s *Synchronizer) *Orchestrator {
	return &Orchestrator{synchronizer: s}
}

// Run synchronizes every account and returns once all of them reached a terminal state and
// AllComplete was emitted. Events are forwarded in arrival order. The returned id tags every
// event of the run.
func (o *Orchestrator) Run(ctx context.Context, accounts []models.Account, sink events.Sink) string {
	runID := uuid.NewString()
	log := logging.Log.WithFields(logrus.Fields{"run_id": runID, "accounts": len(accounts)})
	log.Info("Sync run started")

	forward := func(ev models.SyncEvent) {
		ev.RunID = runID
		if err := sink.Emit(ev); err != nil {
			log.WithField("event", ev.Type.String()).Warnf("Error emitting event: %v", err)
		}
	}

	eventCh := make(chan models.SyncEvent)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range eventCh {
			if ctx.Err() != nil {
				continue
			}
			forward(ev)
		}
	}()

	var wg sync.WaitGroup
	for _, account := range accounts {
		wg.Add(1)
		go func(account models.Account) {
			defer wg.Done()
			state := o.synchronizer.Run(ctx, runID, account, func(ev models.SyncEvent) {
				eventCh <- ev
			})
			log.WithField("account", account.Email).Infof("Account finished in state %s", state)
		}(account)
	}

	wg.Wait()
	close(eventCh)
	<-forwarded

	forward(models.AllComplete())
	log.Info("Sync run complete")
	return runID
}
