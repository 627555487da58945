package core

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ConfigWatcher reloads a configuration file whenever it changes on disk and
// publishes the result on Changes. Reload failures are logged and skipped.
type ConfigWatcher struct {
	path    string
	envFile string

	fsnotify *fsnotify.Watcher
	changes  chan *Config
	done     chan struct{}
	wg       sync.WaitGroup

	mutex    sync.Mutex
	isClosed bool
}

func NewConfigWatcher(path, envFile string) (*ConfigWatcher, error) {
	if path == "" {
		return nil, errors.New("config watcher needs a file path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors replace files on save, so watch the directory rather than the file.
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		_ = fsWatch.Close()
		return nil, err
	}

	cw := &ConfigWatcher{
		path:     abs,
		envFile:  envFile,
		fsnotify: fsWatch,
		changes:  make(chan *Config, 1),
		done:     make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.start()
	return cw, nil
}

// Changes delivers reloaded configurations. Only the latest pending one is kept.
func (cw *ConfigWatcher) Changes() <-chan *Config {
	return cw.changes
}

func (cw *ConfigWatcher) Close() error {
	cw.mutex.Lock()
	if cw.isClosed {
		cw.mutex.Unlock()
		return errors.New("config watcher already closed")
	}
	cw.isClosed = true
	cw.mutex.Unlock()

	close(cw.done)
	err := cw.fsnotify.Close()
	cw.wg.Wait()
	return err
}

func (cw *ConfigWatcher) start() {
	defer cw.wg.Done()
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadConfig(cw.path, cw.envFile)
			if err != nil {
				LogWarn("ignoring config change: %s", err)
				continue
			}
			LogInfo("configuration reloaded from %s", cw.path)
			cw.publish(cfg)
		case err, ok := <-cw.fsnotify.Errors:
			if !ok {
				return
			}
			LogError("config watcher: %s", err)
		}
	}
}

func (cw *ConfigWatcher) publish(cfg *Config) {
	for {
		select {
		case cw.changes <- cfg:
			return
		default:
		}
		// Drop the stale pending config in favor of the new one.
		select {
		case <-cw.changes:
		default:
		}
	}
}
