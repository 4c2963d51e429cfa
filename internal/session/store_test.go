package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnstcn/comicsync/internal/testutil/slogtest"
)

func TestFileStore(t *testing.T) {
	t.Parallel()

	state := State{
		CapturedAt: time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC),
		Cookies: []Cookie{
			{Name: "sid", Domain: "comicskingdom.com", Path: "/", Value: "secret", Secure: true, HTTPOnly: true, Expiry: time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)},
		},
	}

	t.Run("RoundTrip", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "ck.json")
		s := NewFileStore(map[string]string{"comicskingdom": path}, slogtest.New(t))

		require.NoError(t, s.Save("comicskingdom", state))
		got, err := s.Load("comicskingdom")
		require.NoError(t, err)
		assert.Equal(t, state, got)
	})

	t.Run("NotFound", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "ck.json")
		s := NewFileStore(map[string]string{"comicskingdom": path}, slogtest.New(t))
		_, err := s.Load("comicskingdom")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("UnknownIdentity", func(t *testing.T) {
		t.Parallel()
		s := NewFileStore(map[string]string{}, slogtest.New(t))
		_, err := s.Load("gocomics")
		assert.True(t, errors.Is(err, ErrUnknownIdentity))
		assert.True(t, errors.Is(s.Save("gocomics", state), ErrUnknownIdentity))
	})

	t.Run("MalformedFile", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "ck.json")
		require.NoError(t, os.WriteFile(path, []byte("][!"), 0o600))
		s := NewFileStore(map[string]string{"comicskingdom": path}, slogtest.New(t))
		_, err := s.Load("comicskingdom")
		assert.True(t, errors.Is(err, ErrDataIntegrity))
	})

	t.Run("UnsupportedSchemaVersion", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "ck.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"schema_version": 2, "cookies": []}`), 0o600))
		s := NewFileStore(map[string]string{"comicskingdom": path}, slogtest.New(t))
		_, err := s.Load("comicskingdom")
		assert.True(t, errors.Is(err, ErrDataIntegrity))
	})

	t.Run("SaveReplacesAtomically", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := filepath.Join(dir, "ck.json")
		s := NewFileStore(map[string]string{"comicskingdom": path}, slogtest.New(t))
		require.NoError(t, s.Save("comicskingdom", state))
		require.NoError(t, s.Save("comicskingdom", State{CapturedAt: state.CapturedAt}))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		got, err := s.Load("comicskingdom")
		require.NoError(t, err)
		assert.Empty(t, got.Cookies)
	})
}
