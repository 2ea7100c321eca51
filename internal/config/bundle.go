// Package config decodes and validates the bootstrap bundle that
// names the bus, stream, operator UI, and seed directives.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/demon-run/ritual-control/internal/errkit"
)

// Bundle is the decoded, validated bootstrap bundle document.
type Bundle struct {
	Nats      NatsConfig      `yaml:"nats" validate:"required"`
	Stream    StreamConfig    `yaml:"stream" validate:"required"`
	OperateUI OperateUIConfig `yaml:"operateUi" validate:"required"`
	Seed      SeedConfig      `yaml:"seed"`
}

type NatsConfig struct {
	URL string `yaml:"url" validate:"required"`
}

type StreamConfig struct {
	Name                   string   `yaml:"name" validate:"required"`
	Subjects               []string `yaml:"subjects" validate:"required,min=1"`
	DuplicateWindowSeconds int      `yaml:"duplicateWindowSeconds" validate:"required,gt=0"`
}

type OperateUIConfig struct {
	BaseURL           string   `yaml:"baseUrl" validate:"required"`
	ApproverAllowlist []string `yaml:"approverAllowlist"`
}

type SeedConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DuplicateWindow returns the stream's duplicate-detection window as a
// time.Duration, defaulting to the spec's 120s when unset.
func (b Bundle) DuplicateWindow() time.Duration {
	if b.Stream.DuplicateWindowSeconds <= 0 {
		return 120 * time.Second
	}
	return time.Duration(b.Stream.DuplicateWindowSeconds) * time.Second
}

var validate = validator.New()

// Load reads, interpolates, decodes, and validates a bundle file.
// Malformed or incomplete bundles return a Config-kind error.
func Load(path string) (*Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errkit.Wrap(errkit.Config, fmt.Errorf("reading bundle %s: %w", path, err))
	}
	interpolated := Interpolate(string(raw), os.LookupEnv)

	var b Bundle
	if err := yaml.Unmarshal([]byte(interpolated), &b); err != nil {
		return nil, errkit.Wrap(errkit.Config, fmt.Errorf("parsing bundle %s: %w", path, err))
	}
	if err := validate.Struct(&b); err != nil {
		return nil, errkit.Wrap(errkit.Config, fmt.Errorf("validating bundle %s: %w", path, err))
	}
	return &b, nil
}

// Watcher reloads a bundle whenever its file changes on disk, notifying
// subscribers with the freshly validated Bundle. A malformed edit is
// logged and ignored — the last good bundle remains in effect.
type Watcher struct {
	mu      sync.RWMutex
	path    string
	current *Bundle
	log     logr.Logger
	watcher *fsnotify.Watcher
	subs    []chan<- *Bundle
}

// NewWatcher loads path once and begins watching it for changes.
func NewWatcher(path string, log logr.Logger) (*Watcher, error) {
	initial, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errkit.Wrap(errkit.Config, fmt.Errorf("creating bundle watcher: %w", err))
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, errkit.Wrap(errkit.Config, fmt.Errorf("watching bundle %s: %w", path, err))
	}
	w := &Watcher{path: path, current: initial, log: log, watcher: fw}
	go w.loop()
	return w, nil
}

// Current returns the most recently accepted bundle.
func (w *Watcher) Current() *Bundle {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe registers ch to receive every subsequently accepted reload.
func (w *Watcher) Subscribe(ch chan<- *Bundle) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, ch)
}

// Close stops the underlying filesystem watch.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			b, err := Load(w.path)
			if err != nil {
				w.log.Error(err, "bundle reload rejected, keeping previous bundle", "path", w.path)
				continue
			}
			w.mu.Lock()
			w.current = b
			subs := append([]chan<- *Bundle(nil), w.subs...)
			w.mu.Unlock()
			for _, ch := range subs {
				select {
				case ch <- b:
				default:
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error(err, "bundle watcher error")
		}
	}
}
