package credstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
	"go.uber.org/mock/gomock"

	"github.com/basecamp/oauth1-cli/internal/oauth1"
)

const appService = "My Application: Service API"

func authorized(token, secret string) *oauth1.AuthenticationState {
	auth := oauth1.NewHMAC("consumer", "consumer-secret")
	auth.SetTokens(token, secret)
	return auth
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	keyring.MockInit()
	return map[string]Backend{
		"file":    NewFileBackend(t.TempDir()),
		"keyring": NewKeyringBackend(""),
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := New(b, nil)
			require.True(t, store.Save(appService, authorized("final", "finalsecret")))

			loaded := oauth1.NewHMAC("consumer", "consumer-secret")
			require.True(t, store.Load(appService, loaded))
			assert.Equal(t, "final", loaded.Token)
			assert.Equal(t, "finalsecret", loaded.TokenSecret)
			assert.True(t, loaded.IsAuthorized())
		})
	}
}

func TestSaveOverwrites(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := New(b, nil)
			require.True(t, store.Save(appService, authorized("one", "s1")))
			require.True(t, store.Save(appService, authorized("two", "s2")))

			loaded := &oauth1.AuthenticationState{}
			require.True(t, store.Load(appService, loaded))
			assert.Equal(t, "two", loaded.Token)
			assert.Equal(t, "s2", loaded.TokenSecret)
		})
	}
}

func TestRemoveThenLoad(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := New(b, nil)
			require.True(t, store.Save(appService, authorized("tok", "sec")))
			assert.True(t, store.Remove(appService))

			loaded := oauth1.NewHMAC("consumer", "consumer-secret")
			loaded.Scope = "read"
			before := *loaded
			assert.False(t, store.Load(appService, loaded))
			assert.Equal(t, before, *loaded)

			assert.False(t, store.Remove(appService), "second remove has nothing to delete")
		})
	}
}

func TestSaveRequiresTokenPair(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	// No backend calls expected.
	store := New(backend, nil)

	assert.False(t, store.Save(appService, authorized("", "")))
	assert.False(t, store.Save(appService, authorized("token-only", "")))
	assert.False(t, store.Save(appService, authorized("", "secret-only")))
	assert.ErrorIs(t, store.SaveE(appService, authorized("t", "")), ErrNotAuthorized)
}

func TestKeysDoNotCarrySecrets(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	store := New(backend, nil)

	backend.EXPECT().
		Set("oauth1::"+appService, gomock.Any()).
		DoAndReturn(func(key, value string) error {
			assert.NotContains(t, key, "s3cr3t")
			assert.Contains(t, value, "s3cr3t")
			return nil
		})

	assert.True(t, store.Save(appService, authorized("tok", "s3cr3t")))
}

func TestBackendFailuresAreStorageFailures(t *testing.T) {
	boom := errors.New("vault locked")

	t.Run("save", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		backend := NewMockBackend(ctrl)
		backend.EXPECT().Set(gomock.Any(), gomock.Any()).Return(boom)

		store := New(backend, nil)
		assert.False(t, store.Save(appService, authorized("t", "s")))

		backend.EXPECT().Set(gomock.Any(), gomock.Any()).Return(boom)
		err := store.SaveE(appService, authorized("t", "s"))
		assert.ErrorIs(t, err, ErrStorageFailure)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("load leaves state untouched", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		backend := NewMockBackend(ctrl)
		backend.EXPECT().Get("oauth1::"+appService).Return("", boom)

		store := New(backend, nil)
		auth := authorized("keep", "me")
		assert.False(t, store.Load(appService, auth))
		assert.Equal(t, "keep", auth.Token)
		assert.Equal(t, "me", auth.TokenSecret)
	})

	t.Run("corrupt entry", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		backend := NewMockBackend(ctrl)
		backend.EXPECT().Get(gomock.Any()).Return("{not json", nil)
		backend.EXPECT().Get(gomock.Any()).Return(`{"oauth_token":"only"}`, nil)

		store := New(backend, nil)
		auth := &oauth1.AuthenticationState{}
		assert.ErrorIs(t, store.LoadE(appService, auth), ErrStorageFailure)
		assert.ErrorIs(t, store.LoadE(appService, auth), ErrStorageFailure)
		assert.False(t, auth.IsAuthorized())
	})

	t.Run("remove", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		backend := NewMockBackend(ctrl)
		backend.EXPECT().Delete(gomock.Any()).Return(boom)

		store := New(backend, nil)
		assert.False(t, store.Remove(appService))
	})
}

func TestLoadReadsThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	backend.EXPECT().Get(gomock.Any()).Return(`{"oauth_token":"a","oauth_token_secret":"b"}`, nil).Times(2)

	store := New(backend, nil)
	assert.True(t, store.Load(appService, &oauth1.AuthenticationState{}))
	assert.True(t, store.Load(appService, &oauth1.AuthenticationState{}))
}

func TestFileBackendPermissions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	store := New(NewFileBackend(dir), nil)
	require.True(t, store.Save(appService, authorized("t", "s")))

	info, err := os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())
}

func TestFileBackendMultipleKeys(t *testing.T) {
	store := New(NewFileBackend(t.TempDir()), nil)
	require.True(t, store.Save("app:one", authorized("t1", "s1")))
	require.True(t, store.Save("app:two", authorized("t2", "s2")))
	require.True(t, store.Remove("app:one"))

	a := &oauth1.AuthenticationState{}
	assert.False(t, store.Load("app:one", a))
	require.True(t, store.Load("app:two", a))
	assert.Equal(t, "t2", a.Token)
}

func TestMigrateToKeyring(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()
	file := NewFileBackend(dir)
	require.True(t, New(file, nil).Save(appService, authorized("moved", "secret")))

	kr := NewKeyringBackend("")
	n, err := MigrateToKeyring(file, kr)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(file.Path())
	assert.True(t, os.IsNotExist(err), "plaintext file should be removed")

	auth := &oauth1.AuthenticationState{}
	require.True(t, New(kr, nil).Load(appService, auth))
	assert.Equal(t, "moved", auth.Token)
}

func TestNewDefaultBackendHonorsNoKeyring(t *testing.T) {
	dir := t.TempDir()
	b := NewDefaultBackend(dir, true, nil)
	fb, ok := b.(*FileBackend)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, FileName), fb.Path())

	t.Setenv("OAUTH1_NO_KEYRING", "1")
	_, ok = NewDefaultBackend(dir, false, nil).(*FileBackend)
	assert.True(t, ok)
}

func TestNewDefaultBackendPrefersKeyring(t *testing.T) {
	keyring.MockInit()
	_, ok := NewDefaultBackend(t.TempDir(), false, nil).(*KeyringBackend)
	assert.True(t, ok)
}
