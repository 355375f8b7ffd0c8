package models

// EventType tags the variant carried by a SyncEvent
type EventType int

const (
	EventProgress EventType = iota
	EventError
	EventAccountComplete
	EventAllComplete
)

func (t EventType) String() string {
	switch t {
	case EventProgress:
		return "progress"
	case EventError:
		return "error"
	case EventAccountComplete:
		return "account_complete"
	case EventAllComplete:
		return "all_complete"
	default:
		return "unknown"
	}
}

// SyncEvent is one transient notification produced during a sync run.
// Which fields are meaningful depends on Type.
type SyncEvent struct {
	Type      EventType
	Account   string
	Processed int
	Total     int                // new messages of the account, progress and account_complete
	Message   *NormalizedMessage // progress only
	RemoteID  string             // error only, empty for account-level errors
	Err       string             // error only
	RunID     string             // stamped by the orchestrator
}

// Progress builds a progress event
func Progress(account string, processed, total int, msg *NormalizedMessage) SyncEvent {
	return SyncEvent{Type: EventProgress, Account: account, Processed: processed, Total: total, Message: msg}
}

// ErrorEvent builds an error event; remoteID may be empty
func ErrorEvent(account, remoteID, cause string) SyncEvent {
	return SyncEvent{Type: EventError, Account: account, RemoteID: remoteID, Err: cause}
}

// AccountComplete builds the completion event for one account; total is the number of
// new messages found, zero when the account had nothing to fetch
func AccountComplete(account string, total int) SyncEvent {
	return SyncEvent{Type: EventAccountComplete, Account: account, Total: total}
}

// AllComplete builds the final event of a run
func AllComplete() SyncEvent {
	return SyncEvent{Type: EventAllComplete}
}
