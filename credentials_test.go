package auth_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	auth "github.com/goliatone/go-church-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCredentialStore(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryCredentialStore()

	assert.True(t, store.Load(ctx).IsEmpty())

	require.NoError(t, store.Save(ctx, auth.Credentials{AccessToken: "a", RefreshToken: "r"}))
	assert.Equal(t, auth.Credentials{AccessToken: "a", RefreshToken: "r"}, store.Load(ctx))

	require.NoError(t, store.Clear(ctx))
	assert.True(t, store.Load(ctx).IsEmpty())
}

func TestFileCredentialStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "credentials.json")
	store := auth.NewFileCredentialStore(path)
	assert.Equal(t, path, store.Path())

	assert.True(t, store.Load(ctx).IsEmpty(), "missing file reads as empty")

	require.NoError(t, store.Save(ctx, auth.Credentials{AccessToken: "a1", RefreshToken: "r1"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened := auth.NewFileCredentialStore(path)
	assert.Equal(t, auth.Credentials{AccessToken: "a1", RefreshToken: "r1"}, reopened.Load(ctx))

	require.NoError(t, store.Save(ctx, auth.Credentials{AccessToken: "a2"}))
	assert.Equal(t, auth.Credentials{AccessToken: "a2"}, reopened.Load(ctx), "save replaces the whole pair")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileCredentialStoreClear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.json")
	store := auth.NewFileCredentialStore(path)

	require.NoError(t, store.Clear(ctx), "clearing a missing file is fine")

	require.NoError(t, store.Save(ctx, auth.Credentials{AccessToken: "a1"}))
	require.NoError(t, store.Clear(ctx))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.True(t, store.Load(ctx).IsEmpty())
}

func TestFileCredentialStoreCorruptFileReadsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := auth.NewFileCredentialStore(path).WithLogger(&nopLogger{})
	assert.True(t, store.Load(context.Background()).IsEmpty())
}

func TestFileCredentialStoreWithoutAccessToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"refresh_token":"orphan"}`), 0o600))

	store := auth.NewFileCredentialStore(path)
	assert.True(t, store.Load(context.Background()).IsEmpty())
}

func TestFileCredentialStoreHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := auth.NewFileCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	assert.ErrorIs(t, store.Save(ctx, auth.Credentials{AccessToken: "a"}), context.Canceled)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
