package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", "[renderer]\npresent_mode = \"fifo\"\n")

	w, err := NewConfigWatcher(path, "")
	require.NoError(t, err)
	defer w.Close()

	// Unrelated files in the same directory are ignored, as are invalid configs.
	writeFile(t, dir, "other.toml", "[renderer]\npresent_mode = \"immediate\"\n")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nframes_in_flight = 0\n"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\npresent_mode = \"mailbox\"\nclear_color = \"black\"\n"), 0o644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-w.Changes():
			if cfg.Renderer.ClearColor != "black" {
				continue
			}
			assert.Equal(t, "mailbox", cfg.Renderer.PresentMode)
			return
		case <-deadline:
			t.Fatal("no configuration change delivered")
		}
	}
}

func TestConfigWatcherClose(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.toml", "")
	w, err := NewConfigWatcher(path, "")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Error(t, w.Close())
}

func TestConfigWatcherErrors(t *testing.T) {
	_, err := NewConfigWatcher("", "")
	assert.Error(t, err)

	_, err = NewConfigWatcher(filepath.Join(t.TempDir(), "missing", "config.toml"), "")
	assert.Error(t, err)
}

func TestConfigWatcherKeepsLatest(t *testing.T) {
	cw := &ConfigWatcher{changes: make(chan *Config, 1)}
	first, second := DefaultConfig(), DefaultConfig()
	cw.publish(first)
	cw.publish(second)
	assert.Same(t, second, <-cw.Changes())
}
