package schema

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	assert "github.com/stretchr/testify/require"
)

const holderSchema = `
UserTable:
  get: system/login/user
  view: UserView
UserView:
  fields:
    name: name
`

func TestHolderReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(holderSchema), 0o600))

	h, err := NewHolder(zerolog.Nop(), path)
	assert.NoError(t, err)
	first := h.Catalog()
	assert.Equal(t, 2, first.Len())

	var notified int32
	h.OnChange(func(c *Catalog) {
		atomic.AddInt32(&notified, 1)
	})

	// A broken file keeps the current catalog.
	assert.NoError(t, os.WriteFile(path, []byte("UserTable:\n  rpc: x\n  colour: red\n"), 0o600))
	assert.Error(t, h.Reload())
	assert.Same(t, first, h.Catalog())
	assert.Equal(t, int32(0), atomic.LoadInt32(&notified))

	assert.NoError(t, os.WriteFile(path, []byte(holderSchema+"ExtraView:\n  fields:\n    x: x\n"), 0o600))
	assert.NoError(t, h.Reload())
	assert.Equal(t, 3, h.Catalog().Len())
	assert.Equal(t, int32(1), atomic.LoadInt32(&notified))
}

func TestHolderRejectsInvalidSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("V:\n  fields:\n    a: { a: wibble }\n"), 0o600))

	_, err := NewHolder(zerolog.Nop(), path)
	assert.Error(t, err)
}

func TestHolderWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(holderSchema), 0o600))

	h, err := NewHolder(zerolog.Nop(), path)
	assert.NoError(t, err)
	assert.NoError(t, h.Watch())
	defer h.Stop()

	assert.NoError(t, os.WriteFile(path, []byte(holderSchema+"ExtraView:\n  fields:\n    x: x\n"), 0o600))
	assert.Eventually(t, func() bool {
		return h.Catalog().Len() == 3
	}, 5*time.Second, 20*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestHolderWatchDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "users.yaml"), []byte(holderSchema), 0o600))

	h, err := NewHolder(zerolog.Nop(), dir)
	assert.NoError(t, err)
	assert.Equal(t, 2, h.Catalog().Len())
	assert.NoError(t, h.Watch())
	defer h.Stop()

	// Files outside the schema suffixes are ignored.
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not yaml"), 0o600))
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "extra.yml"), []byte("ExtraView:\n  fields:\n    x: x\n"), 0o600))
	assert.Eventually(t, func() bool {
		return h.Catalog().Len() == 3
	}, 5*time.Second, 20*time.Millisecond)
}
