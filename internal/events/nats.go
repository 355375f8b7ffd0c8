package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"mail-ingestor/internal/models"
)

// Publisher publishes one payload with a deduplication id
type Publisher interface {
	Publish(subject string, payload []byte, msgID string) error
}

// NATSSink publishes events as JSON on <subject>.<event type>.
type NATSSink struct {
	pub     Publisher
	subject string
}

func NewNATSSink(pub Publisher, subject string) *NATSSink {
	return &NATSSink{pub: pub, subject: subject}
}

func (s *NATSSink) Emit(ev models.SyncEvent) error {
	data, err := Marshal(ev)
	if err != nil {
		return err
	}
	return s.pub.Publish(s.subject+"."+ev.Type.String(), data, MsgID(ev))
}

// MsgID identifies an event within its run so redelivered publishes are dropped by JetStream.
func MsgID(ev models.SyncEvent) string {
	switch ev.Type {
	case models.EventProgress:
		remoteID := ""
		if ev.Message != nil {
			remoteID = ev.Message.RemoteID
		}
		return fmt.Sprintf("%s:%s:%s:%s", ev.RunID, ev.Type, ev.Account, remoteID)
	case models.EventError:
		return fmt.Sprintf("%s:%s:%s:%s", ev.RunID, ev.Type, ev.Account, ev.RemoteID)
	default:
		return fmt.Sprintf("%s:%s:%s", ev.RunID, ev.Type, ev.Account)
	}
}

// JetStreamPublisher wraps a NATS JetStream connection
type JetStreamPublisher struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewJetStreamPublisher connects to url and returns a JetStream publisher
func NewJetStreamPublisher(url string) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("mail-ingestor"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	return &JetStreamPublisher{nc: nc, js: js}, nil
}

// EnsureStream creates the stream holding <subject>.> when it does not exist yet
func (p *JetStreamPublisher) EnsureStream(name, subject string) error {
	if info, err := p.js.StreamInfo(name); err == nil && info != nil {
		return nil
	}

	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:       name,
		Subjects:   []string{subject + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     7 * 24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

func (p *JetStreamPublisher) Publish(subject string, payload []byte, msgID string) error {
	if _, err := p.js.Publish(subject, payload, nats.MsgId(msgID)); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *JetStreamPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
