package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"mail-ingestor/internal/models"
)

// newTestStore creates an in-memory SQLStore with all migrations applied.
func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	s, err := Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})
	return s
}

func newMessage(account, uid string, received time.Time) *models.NormalizedMessage {
	return &models.NormalizedMessage{
		Account:     account,
		RemoteID:    uid,
		Subject:     "Subject " + uid,
		FromAddress: "sender@example.com",
		ReceivedAt:  received,
		Body:        "body " + uid,
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open("mysql", "x"); err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.runMigrations(); err != nil {
		t.Fatalf("second runMigrations() error: %v", err)
	}

	var version int
	if err := s.db.Get(&version, "SELECT MAX(version) FROM schema_version"); err != nil {
		t.Fatalf("reading version: %v", err)
	}
	if version != migrations[len(migrations)-1].version {
		t.Errorf("schema version = %d, want %d", version, migrations[len(migrations)-1].version)
	}
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	exists, err := s.AccountExists(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("AccountExists() error: %v", err)
	}
	if exists {
		t.Error("Expected account to be absent before upsert")
	}

	if err := s.UpsertAccount(ctx, "a@example.com", models.ProviderGmail); err != nil {
		t.Fatalf("UpsertAccount() error: %v", err)
	}
	if err := s.UpsertAccount(ctx, "a@example.com", models.ProviderYandex); err != nil {
		t.Fatalf("second UpsertAccount() error: %v", err)
	}

	exists, err = s.AccountExists(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("AccountExists() error: %v", err)
	}
	if !exists {
		t.Error("Expected account to exist after upsert")
	}

	var provider string
	if err := s.db.Get(&provider, "SELECT provider FROM email_account WHERE email = ?", "a@example.com"); err != nil {
		t.Fatalf("reading provider: %v", err)
	}
	if provider != "yandex" {
		t.Errorf("provider = %q, want %q", provider, "yandex")
	}
}

func TestCreateMessage_Dedup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.UpsertAccount(ctx, "a@example.com", models.ProviderGmail)
	_ = s.UpsertAccount(ctx, "b@example.com", models.ProviderGmail)

	now := time.Now()
	first := newMessage("a@example.com", "1", now)
	if err := s.CreateMessage(ctx, first); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	if first.ID == "" {
		t.Error("Expected CreateMessage to assign an id")
	}

	err := s.CreateMessage(ctx, newMessage("a@example.com", "1", now))
	if !errors.Is(err, ErrConstraintViolation) {
		t.Errorf("CreateMessage() duplicate error = %v, want ErrConstraintViolation", err)
	}

	// Same uid under another account is a different message.
	if err := s.CreateMessage(ctx, newMessage("b@example.com", "1", now)); err != nil {
		t.Errorf("CreateMessage() for other account error: %v", err)
	}

	n, err := s.CountMessages(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("CountMessages() error: %v", err)
	}
	if n != 1 {
		t.Errorf("CountMessages() = %d, want 1", n)
	}
}

func TestCreateMessage_UnknownAccount(t *testing.T) {
	s := newTestStore(t)

	err := s.CreateMessage(context.Background(), newMessage("ghost@example.com", "1", time.Now()))
	if err == nil {
		t.Fatal("Expected foreign key error")
	}
	if errors.Is(err, ErrConstraintViolation) {
		t.Error("Foreign key failure must not be reported as a duplicate")
	}
}

func TestKnownRemoteIDsAndExists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.UpsertAccount(ctx, "a@example.com", models.ProviderGmail)

	for _, uid := range []string{"1", "5", "9"} {
		if err := s.CreateMessage(ctx, newMessage("a@example.com", uid, time.Now())); err != nil {
			t.Fatalf("CreateMessage(%s) error: %v", uid, err)
		}
	}

	known, err := s.KnownRemoteIDs(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("KnownRemoteIDs() error: %v", err)
	}
	if len(known) != 3 {
		t.Errorf("KnownRemoteIDs() returned %d ids, want 3", len(known))
	}
	for _, uid := range []string{"1", "5", "9"} {
		if _, ok := known[uid]; !ok {
			t.Errorf("KnownRemoteIDs() missing %s", uid)
		}
	}

	tests := []struct {
		account  string
		uid      string
		expected bool
	}{
		{"a@example.com", "5", true},
		{"a@example.com", "6", false},
		{"b@example.com", "5", false},
	}
	for _, tt := range tests {
		got, err := s.MessageExists(ctx, tt.account, tt.uid)
		if err != nil {
			t.Fatalf("MessageExists() error: %v", err)
		}
		if got != tt.expected {
			t.Errorf("MessageExists(%s, %s) = %v, want %v", tt.account, tt.uid, got, tt.expected)
		}
	}
}

func TestListMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.UpsertAccount(ctx, "a@example.com", models.ProviderGmail)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	older := newMessage("a@example.com", "1", base)
	sent := base.Add(-time.Hour)
	older.SentAt = &sent
	newer := newMessage("a@example.com", "2", base.Add(time.Minute))

	for _, m := range []*models.NormalizedMessage{older, newer} {
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage() error: %v", err)
		}
	}

	for _, name := range []string{"b.pdf", "a.txt", "b.pdf"} {
		ref := &models.AttachmentRef{MessageID: older.ID, Filename: name, Location: older.ID + "/" + name, Size: 3}
		if err := s.CreateAttachment(ctx, ref); err != nil {
			t.Fatalf("CreateAttachment() error: %v", err)
		}
	}

	got, err := s.ListMessages(ctx, "a@example.com", 0)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListMessages() returned %d messages, want 2", len(got))
	}
	if got[0].RemoteID != "2" || got[1].RemoteID != "1" {
		t.Errorf("Expected newest first, got %s then %s", got[0].RemoteID, got[1].RemoteID)
	}
	if got[0].SentAt != nil {
		t.Errorf("Expected nil SentAt, got %v", got[0].SentAt)
	}
	if got[1].SentAt == nil || !got[1].SentAt.Equal(sent) {
		t.Errorf("SentAt = %v, want %v", got[1].SentAt, sent)
	}

	wantNames := []string{"b.pdf", "a.txt", "b.pdf"}
	if len(got[1].Attachments) != len(wantNames) {
		t.Fatalf("Expected %d attachments, got %d", len(wantNames), len(got[1].Attachments))
	}
	for i, name := range wantNames {
		if got[1].Attachments[i].Filename != name {
			t.Errorf("attachment[%d] = %q, want %q", i, got[1].Attachments[i].Filename, name)
		}
	}

	limited, err := s.ListMessages(ctx, "a@example.com", 1)
	if err != nil {
		t.Fatalf("ListMessages() with limit error: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("ListMessages() with limit returned %d, want 1", len(limited))
	}
}

func TestDeleteMessage_Cascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_ = s.UpsertAccount(ctx, "a@example.com", models.ProviderGmail)

	msg := newMessage("a@example.com", "1", time.Now())
	if err := s.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}
	if err := s.CreateAttachment(ctx, &models.AttachmentRef{MessageID: msg.ID, Filename: "f.txt", Location: "x"}); err != nil {
		t.Fatalf("CreateAttachment() error: %v", err)
	}

	if err := s.DeleteMessage(ctx, msg.ID); err != nil {
		t.Fatalf("DeleteMessage() error: %v", err)
	}

	var n int
	if err := s.db.Get(&n, "SELECT COUNT(*) FROM attachment WHERE message_id = ?", msg.ID); err != nil {
		t.Fatalf("counting attachments: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected attachments to be deleted with their message, %d left", n)
	}

	if err := s.DeleteMessage(ctx, msg.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteMessage() on missing id error = %v, want ErrNotFound", err)
	}
}
