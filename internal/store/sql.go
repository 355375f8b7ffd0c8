package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"mail-ingestor/internal/models"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStore implements Store on top of SQLite or PostgreSQL.
type SQLStore struct {
	db *sqlx.DB
}

type messageRow struct {
	ID          string       `db:"id"`
	Account     string       `db:"account_email"`
	UID         string       `db:"uid"`
	Subject     string       `db:"subject"`
	FromAddress string       `db:"from_address"`
	SentAt      sql.NullTime `db:"sent_at"`
	ReceivedAt  time.Time    `db:"received_at"`
	Body        string       `db:"body"`
}

type attachmentRow struct {
	ID        string `db:"id"`
	MessageID string `db:"message_id"`
	Filename  string `db:"filename"`
	Location  string `db:"location"`
	Size      int64  `db:"size"`
}

// Open connects to the database selected by driver and applies any pending migrations.
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", driver, err)
	}

	if driver == DriverSQLite {
		// One connection keeps :memory: databases and per-connection pragmas consistent.
		db.SetMaxOpenConns(1)

		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	} else if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s := &SQLStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) runMigrations() error {
	if _, err := s.db.Exec("CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Beginx()
		if err != nil {
			return fmt.Errorf("beginning migration v%d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := tx.Exec(s.db.Rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// UpsertAccount registers an account, updating its provider when it already exists.
func (s *SQLStore) UpsertAccount(ctx context.Context, email string, provider models.Provider) error {
	const query = `
		INSERT INTO email_account (email, provider, created_at) VALUES (?, ?, ?)
		ON CONFLICT (email) DO UPDATE SET provider = excluded.provider`

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), email, string(provider), time.Now().UTC()); err != nil {
		return fmt.Errorf("upserting account %s: %w", email, err)
	}
	return nil
}

func (s *SQLStore) AccountExists(ctx context.Context, email string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM email_account WHERE email = ?"), email)
	if err != nil {
		return false, fmt.Errorf("checking account %s: %w", email, err)
	}
	return n > 0, nil
}

// KnownRemoteIDs returns every remote id already stored for account.
func (s *SQLStore) KnownRemoteIDs(ctx context.Context, account string) (map[string]struct{}, error) {
	var uids []string
	err := s.db.SelectContext(ctx, &uids, s.db.Rebind("SELECT uid FROM email_message WHERE account_email = ?"), account)
	if err != nil {
		return nil, fmt.Errorf("listing known ids for %s: %w", account, err)
	}

	known := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		known[uid] = struct{}{}
	}
	return known, nil
}

func (s *SQLStore) MessageExists(ctx context.Context, account, remoteID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		s.db.Rebind("SELECT COUNT(*) FROM email_message WHERE account_email = ? AND uid = ?"),
		account, remoteID)
	if err != nil {
		return false, fmt.Errorf("checking message %s/%s: %w", account, remoteID, err)
	}
	return n > 0, nil
}

// CreateMessage inserts msg, assigning msg.ID when empty. A duplicate
// (account, remote id) yields ErrConstraintViolation.
func (s *SQLStore) CreateMessage(ctx context.Context, msg *models.NormalizedMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	var sentAt sql.NullTime
	if msg.SentAt != nil {
		sentAt = sql.NullTime{Time: msg.SentAt.UTC(), Valid: true}
	}

	const query = `
		INSERT INTO email_message (
			id, account_email, uid, subject, from_address, sent_at, received_at, body
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		msg.ID, msg.Account, msg.RemoteID, msg.Subject, msg.FromAddress,
		sentAt, msg.ReceivedAt.UTC(), msg.Body,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("message %s/%s: %w", msg.Account, msg.RemoteID, ErrConstraintViolation)
		}
		return fmt.Errorf("creating message %s/%s: %w", msg.Account, msg.RemoteID, err)
	}
	return nil
}

// CreateAttachment records an attachment of an existing message. Attachments keep insertion order.
func (s *SQLStore) CreateAttachment(ctx context.Context, ref *models.AttachmentRef) error {
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}

	const query = `
		INSERT INTO attachment (id, message_id, filename, location, size, position)
		VALUES (?, ?, ?, ?, ?, (SELECT COUNT(*) FROM attachment WHERE message_id = ?))`

	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		ref.ID, ref.MessageID, ref.Filename, ref.Location, ref.Size, ref.MessageID)
	if err != nil {
		return fmt.Errorf("creating attachment %q for message %s: %w", ref.Filename, ref.MessageID, err)
	}
	return nil
}

// ListMessages returns the newest messages of account first, with their attachments.
// A limit of zero or less returns all of them.
func (s *SQLStore) ListMessages(ctx context.Context, account string, limit int) ([]models.NormalizedMessage, error) {
	query := `
		SELECT id, account_email, uid, subject, from_address, sent_at, received_at, body
		FROM email_message
		WHERE account_email = ?
		ORDER BY received_at DESC, id`
	args := []interface{}{account}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("listing messages for %s: %w", account, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}

	attQuery, attArgs, err := sqlx.In(`
		SELECT id, message_id, filename, location, size
		FROM attachment
		WHERE message_id IN (?)
		ORDER BY message_id, position`, ids)
	if err != nil {
		return nil, fmt.Errorf("building attachment query: %w", err)
	}

	var atts []attachmentRow
	if err := s.db.SelectContext(ctx, &atts, s.db.Rebind(attQuery), attArgs...); err != nil {
		return nil, fmt.Errorf("listing attachments for %s: %w", account, err)
	}

	byMessage := make(map[string][]models.AttachmentRef, len(rows))
	for _, a := range atts {
		byMessage[a.MessageID] = append(byMessage[a.MessageID], models.AttachmentRef{
			ID:        a.ID,
			MessageID: a.MessageID,
			Filename:  a.Filename,
			Location:  a.Location,
			Size:      a.Size,
		})
	}

	out := make([]models.NormalizedMessage, 0, len(rows))
	for _, r := range rows {
		m := models.NormalizedMessage{
			ID:          r.ID,
			Account:     r.Account,
			RemoteID:    r.UID,
			Subject:     r.Subject,
			FromAddress: r.FromAddress,
			ReceivedAt:  r.ReceivedAt,
			Body:        r.Body,
			Attachments: byMessage[r.ID],
		}
		if r.SentAt.Valid {
			sent := r.SentAt.Time
			m.SentAt = &sent
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *SQLStore) CountMessages(ctx context.Context, account string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM email_message WHERE account_email = ?"), account)
	if err != nil {
		return 0, fmt.Errorf("counting messages for %s: %w", account, err)
	}
	return n, nil
}

// DeleteMessage removes a message; its attachments go with it.
func (s *SQLStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM email_message WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("deleting message %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting message %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
