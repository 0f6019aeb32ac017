package hosts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEditor(t *testing.T, content string) (*Editor, *int) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	flushes := 0
	e := NewEditor(path, DefaultEntry())
	e.Flush = func(context.Context) error {
		flushes++
		return nil
	}
	return e, &flushes
}

func read(t *testing.T, e *Editor) string {
	t.Helper()
	data, err := os.ReadFile(e.Path)
	require.NoError(t, err)
	return string(data)
}

func TestEnableDisable(t *testing.T) {
	e, flushes := newTestEditor(t, "127.0.0.1 localhost\n::1 localhost\n")
	ctx := context.Background()

	changed, err := e.Enable(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "127.0.0.1 localhost\n::1 localhost\n192.168.137.1 iotapi.abupdate.com\n", read(t, e))
	assert.Equal(t, 1, *flushes)

	changed, err = e.Enable(ctx)
	require.NoError(t, err)
	assert.False(t, changed, "enable is idempotent")
	assert.Equal(t, 1, *flushes)

	ok, err := e.Contains()
	require.NoError(t, err)
	assert.True(t, ok)

	changed, err = e.Disable(ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "127.0.0.1 localhost\n::1 localhost\n", read(t, e))
	assert.Equal(t, 2, *flushes)

	changed, err = e.Disable(ctx)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestDisable_RemovesAllVariants(t *testing.T) {
	content := "127.0.0.1 localhost\r\n" +
		"192.168.137.1\tIOTAPI.abupdate.com  # added earlier\r\n" +
		"# 192.168.137.1 iotapi.abupdate.com\r\n" +
		"192.168.137.1 iotapi.abupdate.com\r\n"
	e, _ := newTestEditor(t, content)

	changed, err := e.Disable(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "127.0.0.1 localhost\r\n# 192.168.137.1 iotapi.abupdate.com\r\n", read(t, e))
}

func TestEnable_CommentedEntryDoesNotCount(t *testing.T) {
	e, _ := newTestEditor(t, "#192.168.137.1 iotapi.abupdate.com")
	changed, err := e.Enable(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "#192.168.137.1 iotapi.abupdate.com\n192.168.137.1 iotapi.abupdate.com\n", read(t, e))
}

func TestEnable_EmptyFile(t *testing.T) {
	e, _ := newTestEditor(t, "")
	_, err := e.Enable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "192.168.137.1 iotapi.abupdate.com\n", read(t, e))
}

func TestEnable_OtherAddressIsNotOurs(t *testing.T) {
	e, _ := newTestEditor(t, "10.0.0.1 iotapi.abupdate.com\n")
	ok, err := e.Contains()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFlushError(t *testing.T) {
	e, _ := newTestEditor(t, "")
	e.Flush = func(context.Context) error { return errors.New("denied") }
	changed, err := e.Enable(context.Background())
	assert.True(t, changed)
	assert.ErrorContains(t, err, "denied")
}

func TestMissingFile(t *testing.T) {
	e := NewEditor(filepath.Join(t.TempDir(), "missing"), DefaultEntry())
	_, err := e.Enable(context.Background())
	assert.Error(t, err)
	_, err = e.Contains()
	assert.Error(t, err)
}

func TestDefaultPath(t *testing.T) {
	assert.NotEmpty(t, DefaultPath())
	assert.NotEmpty(t, NewEditor("", DefaultEntry()).Path)
}
