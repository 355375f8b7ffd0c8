package emailprocessor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"mail-ingestor/internal/logging"
	"mail-ingestor/internal/mailparse"
	"mail-ingestor/internal/models"
	"mail-ingestor/internal/store"
)

// ErrAlreadyKnown is returned by Normalize when the message is already persisted for the account.
var ErrAlreadyKnown = errors.New("message already known")

// MessageStore is the part of persistence the processor writes to
type MessageStore interface {
	MessageExists(ctx context.Context, account, remoteID string) (bool, error)
	CreateMessage(ctx context.Context, msg *models.NormalizedMessage) error
	CreateAttachment(ctx context.Context, ref *models.AttachmentRef) error
}

// BlobStore keeps attachment content
type BlobStore interface {
	Put(ctx context.Context, owner, filename string, data []byte) (string, error)
}

type Processor struct {
	store MessageStore
	blobs BlobStore
	now   func() time.Time
}

// NewProcessor creates a new Processor writing messages to st and attachment content to blobs
func NewProcessor(st MessageStore, blobs BlobStore) *Processor {
	return &Processor{
		store: st,
		blobs: blobs,
		now:   time.Now,
	}
}

// Normalize orchestrates the ingestion of one raw message:
// dedup check → parse → decode headers → extract body → persist → store attachments
func (p *Processor) Normalize(ctx context.Context, account models.Account, raw []byte, remoteID string) (*models.NormalizedMessage, error) {
	locallog := logging.Log.WithFields(logrus.Fields{"account": account.Email, "remote_id": remoteID})

	exists, err := p.store.MessageExists(ctx, account.Email, remoteID)
	if err != nil {
		return nil, fmt.Errorf("checking message %s: %w", remoteID, err)
	}
	if exists {
		return nil, ErrAlreadyKnown
	}

	parsed, err := mailparse.Parse(raw)
	if err != nil {
		locallog.Debugf("Degraded MIME parse: %v", err)
	}

	now := p.now()
	msg := &models.NormalizedMessage{
		Account:     account.Email,
		RemoteID:    remoteID,
		Subject:     mailparse.DecodeHeader(parsed.Get("Subject")),
		FromAddress: mailparse.DecodeHeader(parsed.Get("From")),
		ReceivedAt:  now,
		Body:        mailparse.ExtractBody(parsed),
	}

	sentAt, ok := mailparse.ParseDate(parsed.Get("Date"))
	if !ok {
		sentAt = now
	}
	msg.SentAt = &sentAt

	if err := p.store.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrConstraintViolation) {
			return nil, ErrAlreadyKnown
		}
		return nil, fmt.Errorf("creating message %s: %w", remoteID, err)
	}

	for _, att := range mailparse.ExtractAttachments(parsed) {
		ref, err := p.storeAttachment(ctx, msg.ID, att)
		if err != nil {
			locallog.Errorf("Error storing attachment %q: %v", att.Filename, err)
			continue
		}
		msg.Attachments = append(msg.Attachments, *ref)
	}

	locallog.Debugf("Message normalized with %d attachment(s)", len(msg.Attachments))
	return msg, nil
}

func (p *Processor) storeAttachment(ctx context.Context, messageID string, att mailparse.Attachment) (*models.AttachmentRef, error) {
	location, err := p.blobs.Put(ctx, messageID, att.Filename, att.Content)
	if err != nil {
		return nil, err
	}

	ref := &models.AttachmentRef{
		MessageID: messageID,
		Filename:  att.Filename,
		Location:  location,
		Size:      int64(len(att.Content)),
	}
	if err := p.store.CreateAttachment(ctx, ref); err != nil {
		return nil, err
	}
	return ref, nil
}
