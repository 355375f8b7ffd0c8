package store

import (
	"context"
	"errors"

	"mail-ingestor/internal/models"
)

// ErrConstraintViolation is returned by CreateMessage when the (account, remote id) pair already exists.
var ErrConstraintViolation = errors.New("constraint violation")

// ErrNotFound is returned when a lookup by id matches nothing.
var ErrNotFound = errors.New("not found")

// Store persists accounts, normalized messages and their attachment references.
type Store interface {
	UpsertAccount(ctx context.Context, email string, provider models.Provider) error
	AccountExists(ctx context.Context, email string) (bool, error)

	KnownRemoteIDs(ctx context.Context, account string) (map[string]struct{}, error)
	MessageExists(ctx context.Context, account, remoteID string) (bool, error)
	CreateMessage(ctx context.Context, msg *models.NormalizedMessage) error
	CreateAttachment(ctx context.Context, ref *models.AttachmentRef) error

	ListMessages(ctx context.Context, account string, limit int) ([]models.NormalizedMessage, error)
	CountMessages(ctx context.Context, account string) (int, error)
	DeleteMessage(ctx context.Context, id string) error

	Close() error
}
