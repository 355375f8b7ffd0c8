package events

import (
	"errors"

	"github.com/sirupsen/logrus"

	"mail-ingestor/internal/logging"
	"mail-ingestor/internal/models"
)

// ErrSinkClosed is returned when a sink no longer accepts events.
var ErrSinkClosed = errors.New("event sink closed")

// Sink receives every event of a sync run, in arrival order.
type Sink interface {
	Emit(ev models.SyncEvent) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ev models.SyncEvent) error

func (f SinkFunc) Emit(ev models.SyncEvent) error { return f(ev) }

// ChanSink delivers events on C until Done is closed.
type ChanSink struct {
	C    chan<- models.SyncEvent
	Done <-chan struct{}
}

func (s ChanSink) Emit(ev models.SyncEvent) error {
	select {
	case s.C <- ev:
		return nil
	case <-s.Done:
		return ErrSinkClosed
	}
}

// LogSink writes events to the application logger
type LogSink struct{}

func (LogSink) Emit(ev models.SyncEvent) error {
	entry := logging.Log.WithFields(logrus.Fields{
		"event":   ev.Type.String(),
		"run_id":  ev.RunID,
		"account": ev.Account,
	})

	switch ev.Type {
	case models.EventProgress:
		fields := logrus.Fields{"processed": ev.Processed, "total": ev.Total}
		if ev.Message != nil {
			fields["subject"] = ev.Message.Subject
			fields["remote_id"] = ev.Message.RemoteID
		}
		entry.WithFields(fields).Infof("Ingested message %d/%d", ev.Processed, ev.Total)
	case models.EventError:
		entry.WithField("remote_id", ev.RemoteID).Errorf("Sync error: %s", ev.Err)
	case models.EventAccountComplete:
		entry.Info("Account complete")
	case models.EventAllComplete:
		entry.Info("All accounts complete")
	}
	return nil
}

// MultiSink fans every event out to all of its sinks. A failing sink does not stop delivery to the others.
type MultiSink []Sink

func (m MultiSink) Emit(ev models.SyncEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
