package models

import "time"

// NormalizedMessage is the decoded, persisted representation of a remote message
type NormalizedMessage struct {
	ID          string
	Account     string
	RemoteID    string
	Subject     string
	FromAddress string
	SentAt      *time.Time
	ReceivedAt  time.Time
	Body        string
	Attachments []AttachmentRef
}

// AttachmentRef is an attachment owned by a message; it is removed with its parent
type AttachmentRef struct {
	ID        string
	MessageID string
	Filename  string
	Location  string
	Size      int64
}
