package imap

import "context"

// Client is a session against one remote mailbox. Remote ids are IMAP UIDs rendered as decimal strings.
type Client interface {
	Connect(ctx context.Context, endpoint string) error
	Login(user, password string) error
	SelectMailbox(name string) error
	ListAllUIDs(ctx context.Context) ([]string, error)
	FetchBatch(ctx context.Context, ids []string) (map[string][]byte, error)
	Close() error
}

// Dialer opens fresh sessions; each account run owns its own Client.
type Dialer interface {
	NewClient() Client
}
