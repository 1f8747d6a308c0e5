package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/steadystate/app/steady"
)

func TestFile_ReadWriteRemove(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	f, err := NewFile(dir, "")
	require.NoError(t, err)
	assert.Equal(t, "file:"+filepath.Join(dir, "steadyStateData.json"), f.String())

	_, err = f.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.Write(context.Background(), []byte(`{"a":1}`)))
	require.NoError(t, f.Write(context.Background(), []byte(`{"a":2}`)))
	data, err := f.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left")

	require.NoError(t, f.Remove(context.Background()))
	require.NoError(t, f.Remove(context.Background()), "missing file is fine")
	_, err = f.Read(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFile_Canceled(t *testing.T) {
	f, err := NewFile(t.TempDir(), "state.json")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.Write(ctx, []byte("x")), context.Canceled)
	_, err = f.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFile_ReadFailure(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, "state.json")
	require.NoError(t, err)
	// directory in place of the file makes read fail with something other than not-exist
	require.NoError(t, os.Mkdir(filepath.Join(dir, "state.json"), 0o700))

	res, err := New(f, Params{}).Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, steady.Defaults(), res)
}

func TestFile_WithAdapter(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(dir, "")
	require.NoError(t, err)
	a := New(f, Params{Async: 2})

	st := steady.NewState(steady.Defaults(), steady.WithClearer(a))
	a.Bind(context.Background(), st.Store())
	st.UpdateInput("马赫数", 0.8)
	a.Flush()

	// fresh adapter over the same file, as on next start
	f2, err := NewFile(dir, "")
	require.NoError(t, err)
	res, err := New(f2, Params{}).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.DataIN, 12)

	require.NoError(t, st.Reset(context.Background()))
	_, err = os.Stat(filepath.Join(dir, "steadyStateData.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
