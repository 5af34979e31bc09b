package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// rulesFile is the on-disk classifier format.
type rulesFile struct {
	Patterns []string `yaml:"patterns"`
}

// WatchedClassifier is a Classifier backed by a YAML rules file that is
// hot-reloaded on change. A bad edit keeps the previous rule set in place.
type WatchedClassifier struct {
	mu      sync.RWMutex
	inner   *RuleClassifier
	watcher *fsnotify.Watcher
	path    string
	log     *zap.Logger
	done    chan struct{}
}

// LoadRules reads a rules file into a static classifier.
func LoadRules(path string) (*RuleClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	return NewRuleClassifier(rf.Patterns)
}

// WatchRules loads the rules file and reloads it whenever it changes. The
// parent directory is watched, not the file itself, so editors that replace
// the file atomically still trigger a reload.
func WatchRules(path string, logger *zap.Logger) (*WatchedClassifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	inner, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	w := &WatchedClassifier{
		inner:   inner,
		watcher: watcher,
		path:    path,
		log:     logger.Named("noise-rules"),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *WatchedClassifier) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("rules watcher error", zap.Error(err))
		}
	}
}

func (w *WatchedClassifier) reload() {
	inner, err := LoadRules(w.path)
	if err != nil {
		w.log.Warn("rules reload failed, keeping previous set", zap.Error(err))
		return
	}
	w.mu.Lock()
	w.inner = inner
	w.mu.Unlock()
	w.log.Info("noise rules reloaded", zap.Int("patterns", len(inner.rules)))
}

// IsNoise implements Classifier against the current rule set.
func (w *WatchedClassifier) IsNoise(line string) bool {
	w.mu.RLock()
	inner := w.inner
	w.mu.RUnlock()
	return inner.IsNoise(line)
}

// Close stops the watcher. Safe to call once.
func (w *WatchedClassifier) Close() error {
	close(w.done)
	return w.watcher.Close()
}
