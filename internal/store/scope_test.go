package store

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_StageCommitAndClose(t *testing.T) {
	s, _ := openTestStore(t)
	inst, err := s.Create(context.Background(), fabricSpec("scoped"))
	require.NoError(t, err)

	scope, err := s.Scope(inst.ID, "plan-1")
	require.NoError(t, err)

	f, err := scope.CreateStaged("mods/sodium.jar")
	require.NoError(t, err)
	_, err = f.WriteString("sodium")
	require.NoError(t, err)
	require.NoError(t, scope.Release(f))
	assert.Equal(t, 0, scope.OpenHandles())

	require.NoError(t, scope.Commit("mods/sodium.jar"))

	data, err := os.ReadFile(filepath.Join(s.Dir(inst.ID), "mods", "sodium.jar"))
	require.NoError(t, err)
	assert.Equal(t, "sodium", string(data))

	in, err := scope.OpenInstalled("mods/sodium.jar")
	require.NoError(t, err)
	got, err := io.ReadAll(in)
	require.NoError(t, err)
	assert.Equal(t, "sodium", string(got))
	assert.Equal(t, 1, scope.OpenHandles())

	// Close releases the handle we never gave back
	require.NoError(t, scope.Close())
	assert.Equal(t, 0, scope.OpenHandles())
	assert.NoDirExists(t, filepath.Join(s.Dir(inst.ID), stagingDir))
	require.NoError(t, scope.Close())

	_, err = scope.StagingPath("x")
	assert.ErrorIs(t, err, ErrScopeClosed)
	assert.ErrorIs(t, scope.Commit("x"), ErrScopeClosed)
}

func TestScope_RejectsTraversal(t *testing.T) {
	s, _ := openTestStore(t)
	inst, err := s.Create(context.Background(), fabricSpec("scoped"))
	require.NoError(t, err)

	scope, err := s.Scope(inst.ID, "plan-1")
	require.NoError(t, err)
	defer scope.Close()

	_, err = scope.StagingPath("../../escape.jar")
	assert.Error(t, err)
	assert.Error(t, scope.Delete("../../../etc/passwd"))
}

func TestScope_Delete(t *testing.T) {
	s, _ := openTestStore(t)
	inst, err := s.Create(context.Background(), fabricSpec("scoped"))
	require.NoError(t, err)
	target := filepath.Join(s.Dir(inst.ID), "old.jar")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0644))

	scope, err := s.Scope(inst.ID, "plan-1")
	require.NoError(t, err)
	defer scope.Close()

	require.NoError(t, scope.Delete("old.jar"))
	assert.NoFileExists(t, target)
	require.NoError(t, scope.Delete("old.jar"), "deleting a missing file is fine")
}

func TestScope_UnknownInstance(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := s.Scope("missing", "plan-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
