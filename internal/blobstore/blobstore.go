package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const maxNameLength = 128

// Store keeps attachment content addressed by a relative location.
type Store struct {
	fs   afero.Fs
	root string
}

// New returns a Store rooted at root on fs.
func New(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

// NewOS returns a Store writing under dir on the local filesystem.
func NewOS(dir string) (*Store, error) {
	fs := afero.NewOsFs()
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating attachment dir %s: %w", dir, err)
	}
	return New(fs, dir), nil
}

// Put writes data for the attachment filename owned by owner and returns its location.
// Equal filenames under the same owner never overwrite each other.
func (s *Store) Put(ctx context.Context, owner, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	location := path.Join(SanitizeName(owner), uuid.NewString()+"-"+SanitizeName(filename))
	full := path.Join(s.root, location)

	if err := s.fs.MkdirAll(path.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating dir for %s: %w", location, err)
	}
	if err := afero.WriteFile(s.fs, full, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", location, err)
	}
	return location, nil
}

// Open returns a reader for content previously written by Put.
func (s *Store) Open(location string) (io.ReadCloser, error) {
	clean := path.Clean("/" + location)
	f, err := s.fs.Open(path.Join(s.root, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("attachment %s: %w", location, os.ErrNotExist)
		}
		return nil, fmt.Errorf("opening %s: %w", location, err)
	}
	return f, nil
}

// SanitizeName reduces name to a single safe path element.
func SanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':':
			return '_'
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, name)
	name = strings.Trim(strings.TrimSpace(name), ".")

	if name == "" {
		return "unnamed"
	}
	if len(name) > maxNameLength {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = strings.ToValidUTF8(name[:maxNameLength-len(ext)], "") + ext
	}
	return name
}
