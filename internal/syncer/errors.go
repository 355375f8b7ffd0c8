package syncer

import "fmt"

// ErrorKind classifies failures surfaced by a synchronization run
type ErrorKind int

const (
	// ConnectionFailure aborts one account: connect or authentication failed.
	ConnectionFailure ErrorKind = iota
	// ListingFailure aborts one account: the mailbox could not be selected or listed.
	ListingFailure
	// FetchFailure skips one message; the account continues.
	FetchFailure
	// PersistenceFailure aborts one account when known ids cannot be read,
	// and skips one message when its record cannot be written.
	PersistenceFailure
)

func (k ErrorKind) String() string {
	switch k {
	case ConnectionFailure:
		return "connection"
	case ListingFailure:
		return "listing"
	case FetchFailure:
		return "fetch"
	case PersistenceFailure:
		return "persistence"
	default:
		return "unknown"
	}
}

// SyncError carries the account (and message, when per-message) a failure belongs to
type SyncError struct {
	Kind     ErrorKind
	Account  string
	RemoteID string
	Err      error
}

func (e *SyncError) Error() string {
	if e.RemoteID != "" {
		return fmt.Sprintf("%s failure for message %s: %v", e.Kind, e.RemoteID, e.Err)
	}
	return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
