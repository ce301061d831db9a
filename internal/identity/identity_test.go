package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/messenger-client/internal/model"
)

func TestFileStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "user.json")
	s := NewFileStore(path)

	_, err := s.Current(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, s.Save(model.User{ID: "u1", Prenom: "Awa", Nom: "Diop"}))
	u, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "Diop", u.Nom)

	require.NoError(t, s.Clear())
	_, err = s.Current(ctx)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	require.NoError(t, s.Clear())
}

func TestFileStoreRecordWithoutID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"prenom":"x"}`), 0o600))

	_, err := NewFileStore(path).Current(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o600))
	_, err = NewFileStore(path).Current(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestFileStoreSaveRequiresID(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "user.json"))
	assert.ErrorIs(t, s.Save(model.User{}), ErrNotAuthenticated)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(nil)
	_, err := s.Current(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	s.Set(&model.User{ID: "me"})
	u, err := s.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "me", u.ID)
}
