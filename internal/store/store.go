// Package store persists session artifacts, the serialized cookie sets
// that let a later run skip interactive login. One JSON file per account
// identity, written atomically, readable only by the owning user.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/posaune0423/tor-selenium-x/api/schemas"
	"github.com/posaune0423/tor-selenium-x/internal/config"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound reports that no usable artifact exists for an identity. It is
// a normal outcome, not a failure: missing, corrupt, unknown-schema and
// fully expired artifacts all collapse into it so a caller can never act on
// a partially trusted cookie set.
var ErrNotFound = errors.New("session artifact not found")

// StorageError wraps genuine I/O or permission failures. Unlike ErrNotFound
// it must propagate; swallowing it would hide a broken data directory.
type StorageError struct {
	Op       string
	Identity string
	Err      error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("artifact store: %s for identity %q: %v", e.Op, e.Identity, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

const (
	dirPerm  = 0o700
	filePerm = 0o600
)

// Store is the only component allowed to read or write artifact files.
type Store struct {
	dir          string
	expiryBuffer time.Duration
	log          *zap.Logger
	now          func() time.Time
}

// New creates a store rooted at cfg.DataDir, creating the directory with
// owner-only permissions if needed.
func New(cfg config.StoreConfig, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, dirPerm); err != nil {
		return nil, &StorageError{Op: "create data dir", Err: err}
	}

	return &Store{
		dir:          cfg.DataDir,
		expiryBuffer: cfg.ExpiryBuffer,
		log:          logger.Named("store"),
		now:          time.Now,
	}, nil
}

// Save serializes and atomically writes the artifact for an identity,
// replacing any prior one. The temp-file-plus-rename dance guarantees a
// reader never observes a partial write.
func (s *Store) Save(identity string, artifact *schemas.SessionArtifact) error {
	artifact.Identity = identity
	artifact.SchemaVersion = schemas.CurrentArtifactSchemaVersion
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = s.now().UTC()
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return &StorageError{Op: "serialize", Identity: identity, Err: err}
	}

	target := s.path(identity)
	tmp, err := os.CreateTemp(s.dir, ".artifact-*.tmp")
	if err != nil {
		return &StorageError{Op: "create temp file", Identity: identity, Err: err}
	}
	tmpName := tmp.Name()

	// On any failure past this point the temp file must not linger.
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if err := tmp.Chmod(filePerm); err != nil {
		cleanup()
		return &StorageError{Op: "chmod temp file", Identity: identity, Err: err}
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return &StorageError{Op: "write", Identity: identity, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return &StorageError{Op: "sync", Identity: identity, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "close temp file", Identity: identity, Err: err}
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return &StorageError{Op: "rename", Identity: identity, Err: err}
	}

	s.log.Info("Saved session artifact",
		zap.String("identity", identity),
		zap.Int("entries", len(artifact.Entries)))
	return nil
}

// Load reads, validates and expiry-filters the artifact for an identity.
// Validation is all or nothing: any structural problem yields ErrNotFound
// rather than a partially populated artifact.
func (s *Store) Load(identity string) (*schemas.SessionArtifact, error) {
	data, err := os.ReadFile(s.path(identity))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "read", Identity: identity, Err: err}
	}

	var artifact schemas.SessionArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		s.log.Warn("Discarding corrupt session artifact",
			zap.String("identity", identity), zap.Error(err))
		return nil, ErrNotFound
	}

	if artifact.SchemaVersion != schemas.CurrentArtifactSchemaVersion {
		s.log.Warn("Discarding session artifact with unknown schema version",
			zap.String("identity", identity),
			zap.Int("schema_version", artifact.SchemaVersion))
		return nil, ErrNotFound
	}
	if artifact.Identity != identity {
		s.log.Warn("Discarding session artifact with mismatched identity",
			zap.String("identity", identity))
		return nil, ErrNotFound
	}

	surviving := s.filterExpired(artifact.Entries)
	dropped := len(artifact.Entries) - len(surviving)
	if dropped > 0 {
		s.log.Debug("Dropped expired artifact entries",
			zap.String("identity", identity), zap.Int("dropped", dropped))
	}
	if len(surviving) == 0 {
		return nil, ErrNotFound
	}
	artifact.Entries = surviving

	return &artifact, nil
}

// Invalidate deletes the stored artifact for an identity. Deleting an
// absent artifact is not an error.
func (s *Store) Invalidate(identity string) error {
	err := os.Remove(s.path(identity))
	if err != nil && !os.IsNotExist(err) {
		return &StorageError{Op: "delete", Identity: identity, Err: err}
	}
	if err == nil {
		s.log.Info("Invalidated session artifact", zap.String("identity", identity))
	}
	return nil
}

// filterExpired drops entries whose expiry falls within the buffer window.
// Session cookies carry no expiry and always survive.
func (s *Store) filterExpired(entries []schemas.CookieEntry) []schemas.CookieEntry {
	cutoff := s.now().Add(s.expiryBuffer)
	surviving := make([]schemas.CookieEntry, 0, len(entries))
	for _, e := range entries {
		if e.Session() || e.Expiry.After(cutoff) {
			surviving = append(surviving, e)
		}
	}
	return surviving
}

// path maps an identity to its artifact file. A readable sanitized prefix
// plus a hash suffix keeps filenames unique even for identities that
// collide after sanitization.
func (s *Store) path(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	name := fmt.Sprintf("%s-%s.json", sanitize(identity), hex.EncodeToString(sum[:6]))
	return filepath.Join(s.dir, name)
}

func sanitize(identity string) string {
	var b strings.Builder
	for _, r := range identity {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	const maxPrefix = 40
	out := b.String()
	if len(out) > maxPrefix {
		out = out[:maxPrefix]
	}
	return out
}
