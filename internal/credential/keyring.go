package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"mail-ingestor/internal/logging"
	"mail-ingestor/internal/models"
)

const serviceName = "mail-ingestor"

// Key is the keyring entry holding the password of an account.
func Key(email string) string {
	return "mailsync-" + email
}

// Store reads and writes account passwords in a keyring.
type Store struct {
	ring keyring.Keyring
}

// New wraps an already opened keyring.
func New(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Open returns a Store backed by the system keyring.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mail-ingestor/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mail-ingestor-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

// Get retrieves the password stored for email.
func (s *Store) Get(email string) (string, error) {
	item, err := s.ring.Get(Key(email))
	if err != nil {
		return "", fmt.Errorf("getting credential for %q: %w", email, err)
	}
	return string(item.Data), nil
}

// Set stores the password for email.
func (s *Store) Set(email, password string) error {
	err := s.ring.Set(keyring.Item{
		Key:   Key(email),
		Data:  []byte(password),
		Label: "mail-ingestor " + email,
	})
	if err != nil {
		return fmt.Errorf("setting credential for %q: %w", email, err)
	}
	return nil
}

// Delete removes the password stored for email.
func (s *Store) Delete(email string) error {
	if err := s.ring.Remove(Key(email)); err != nil {
		return fmt.Errorf("deleting credential for %q: %w", email, err)
	}
	return nil
}

// ResolvePasswords fills empty passwords from the keyring. Accounts without a stored
// password are returned unchanged and fail later at login.
func (s *Store) ResolvePasswords(accounts []models.Account) []models.Account {
	out := make([]models.Account, len(accounts))
	for i, acc := range accounts {
		out[i] = acc
		if acc.Password != "" {
			continue
		}
		password, err := s.Get(acc.Email)
		if err != nil {
			if errors.Is(err, keyring.ErrKeyNotFound) {
				logging.Log.WithField("account", acc.Email).Warn("No password configured or stored in keyring")
			} else {
				logging.Log.WithField("account", acc.Email).Errorf("Error reading keyring: %v", err)
			}
			continue
		}
		out[i].Password = password
	}
	return out
}
