package store

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/posaune0423/tor-selenium-x/api/schemas"
	"github.com/posaune0423/tor-selenium-x/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(config.StoreConfig{
		DataDir:      t.TempDir(),
		ExpiryBuffer: 5 * time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func testArtifact(entries ...schemas.CookieEntry) *schemas.SessionArtifact {
	return &schemas.SessionArtifact{Entries: entries}
}

func freshCookie(name string) schemas.CookieEntry {
	return schemas.CookieEntry{
		Domain:   ".x.com",
		Name:     name,
		Value:    "value-" + name,
		Path:     "/",
		Expiry:   time.Now().Add(24 * time.Hour).UTC(),
		Secure:   true,
		HTTPOnly: true,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	saved := testArtifact(freshCookie("auth_token"), freshCookie("ct0"))
	require.NoError(t, s.Save("acct1", saved))

	loaded, err := s.Load("acct1")
	require.NoError(t, err)
	assert.Equal(t, "acct1", loaded.Identity)
	assert.Equal(t, schemas.CurrentArtifactSchemaVersion, loaded.SchemaVersion)
	assert.False(t, loaded.CreatedAt.IsZero())
	require.Len(t, loaded.Entries, 2)
	assert.Equal(t, saved.Entries[0].Value, loaded.Entries[0].Value)
	assert.Equal(t, saved.Entries[1].Name, loaded.Entries[1].Name)
}

func TestSaveOverwritesPriorArtifact(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Save("acct1", testArtifact(freshCookie("old"))))
	require.NoError(t, s.Save("acct1", testArtifact(freshCookie("new"))))

	loaded, err := s.Load("acct1")
	require.NoError(t, err)
	require.Len(t, loaded.Entries, 1)
	assert.Equal(t, "new", loaded.Entries[0].Name)
}

func TestLoadMissingIdentityIsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load("nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadRejectsCorruptArtifact(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save("acct1", testArtifact(freshCookie("auth_token"))))

	// Truncate the file mid-document.
	path := s.path("acct1")
	require.NoError(t, os.WriteFile(path, []byte(`{"identity": "acct1", "entr`), 0o600))

	_, err := s.Load("acct1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadRejectsUnknownSchemaVersion(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save("acct1", testArtifact(freshCookie("auth_token"))))

	// Rewrite with a future schema version; the content is otherwise valid.
	raw, err := os.ReadFile(s.path("acct1"))
	require.NoError(t, err)
	var artifact schemas.SessionArtifact
	require.NoError(t, json.Unmarshal(raw, &artifact))
	artifact.SchemaVersion = 99
	raw, err = json.Marshal(&artifact)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.path("acct1"), raw, 0o600))

	_, err = s.Load("acct1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadDropsExpiredEntries(t *testing.T) {
	s := newTestStore(t)

	expired := freshCookie("expired")
	expired.Expiry = time.Now().Add(-time.Hour)
	expiringSoon := freshCookie("expiring_soon")
	expiringSoon.Expiry = time.Now().Add(time.Minute) // inside the 5m buffer
	sessionCookie := freshCookie("session_cookie")
	sessionCookie.Expiry = time.Time{}

	require.NoError(t, s.Save("acct1", testArtifact(expired, expiringSoon, sessionCookie, freshCookie("good"))))

	loaded, err := s.Load("acct1")
	require.NoError(t, err)
	names := make([]string, 0, len(loaded.Entries))
	for _, e := range loaded.Entries {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"session_cookie", "good"}, names)
}

func TestLoadAllEntriesExpiredIsNotFound(t *testing.T) {
	s := newTestStore(t)

	expired := freshCookie("expired")
	expired.Expiry = time.Now().Add(-time.Hour)
	require.NoError(t, s.Save("acct1", testArtifact(expired)))

	_, err := s.Load("acct1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidate(t *testing.T) {
	s := newTestStore(t)

	t.Run("idempotent when absent", func(t *testing.T) {
		assert.NoError(t, s.Invalidate("ghost"))
		assert.NoError(t, s.Invalidate("ghost"))
	})

	t.Run("invalidate then load yields not found", func(t *testing.T) {
		require.NoError(t, s.Save("acct1", testArtifact(freshCookie("auth_token"))))
		require.NoError(t, s.Invalidate("acct1"))

		_, err := s.Load("acct1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestArtifactFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits are not meaningful on windows")
	}
	s := newTestStore(t)
	require.NoError(t, s.Save("acct1", testArtifact(freshCookie("auth_token"))))

	info, err := os.Stat(s.path("acct1"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "artifact files contain secrets")
}

func TestDistinctIdentitiesGetDistinctFiles(t *testing.T) {
	s := newTestStore(t)

	// These sanitize to the same prefix; the hash suffix must separate them.
	require.NoError(t, s.Save("user@x.com", testArtifact(freshCookie("a"))))
	require.NoError(t, s.Save("user!x.com", testArtifact(freshCookie("b"))))

	assert.NotEqual(t, s.path("user@x.com"), s.path("user!x.com"))
	assert.NotEqual(t, filepath.Base(s.path("user@x.com")), filepath.Base(s.path("user!x.com")))

	a, err := s.Load("user@x.com")
	require.NoError(t, err)
	assert.Equal(t, "a", a.Entries[0].Name)
}

func TestSanitizeKeepsLongMultibyteIdentitiesASCII(t *testing.T) {
	// Every non-ASCII rune maps to '_' before the length cap, so the cap
	// can never split a rune and filenames stay plain ASCII.
	identity := strings.Repeat("ユーザー", 20) + "@example.com"

	out := sanitize(identity)
	assert.True(t, utf8.ValidString(out))
	assert.LessOrEqual(t, len(out), 40)
	for _, r := range out {
		assert.Less(t, r, rune(128), "sanitized identity must be ASCII")
	}

	s := newTestStore(t)
	require.NoError(t, s.Save(identity, testArtifact(freshCookie("auth_token"))))
	loaded, err := s.Load(identity)
	require.NoError(t, err)
	assert.Equal(t, identity, loaded.Identity)
}
