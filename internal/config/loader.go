package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:default} patterns in a string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		varName := submatch[1]
		defaultVal := ""
		if len(submatch) >= 3 {
			defaultVal = submatch[2]
		}
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return defaultVal
	})
}

// LoadFile reads a YAML file, expands env vars, and unmarshals into dest.
func LoadFile(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), dest); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Loader manages service config and the policy snapshot, with hot reload
// via fsnotify. Service config is read under a lock at wiring time; the
// policy snapshot is behind an atomic pointer so every in-flight request
// reads one immutable Policy. A snapshot that fails validation is rejected
// and the previous one stays active.
type Loader struct {
	configDir string
	mu        sync.RWMutex
	cfg       *Config
	policy    atomic.Pointer[Policy]
	watchers  []func(*Policy)
	logger    *slog.Logger
}

func NewLoader(configDir string, logger *slog.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger,
	}
}

func (l *Loader) Load() error {
	cfg := DefaultConfig()
	if err := LoadFile(l.configDir+"/gateway.yaml", cfg); err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}

	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()

	if err := l.loadPolicy(); err != nil {
		return err
	}

	l.logger.Info("configuration loaded", "dir", l.configDir)
	return nil
}

func (l *Loader) loadPolicy() error {
	policy := DefaultPolicy()
	if err := LoadFile(l.configDir+"/policy.yaml", policy); err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("validate policy: %w", err)
	}
	l.policy.Store(policy)
	return nil
}

func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Policy returns the active snapshot. Callers hold the returned pointer
// for the lifetime of one request; a concurrent reload never changes what
// they see.
func (l *Loader) Policy() *Policy {
	return l.policy.Load()
}

// OnReload registers a callback that fires with the new snapshot after a
// successful policy reload.
func (l *Loader) OnReload(fn func(*Policy)) {
	l.watchers = append(l.watchers, fn)
}

// Watch starts watching the config directory for changes and reloads on
// modification. A reload that fails validation logs and keeps the active
// snapshot.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(l.configDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir %s: %w", l.configDir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					l.logger.Info("config file changed, reloading policy", "file", event.Name)
					if err := l.loadPolicy(); err != nil {
						l.logger.Error("policy reload rejected, keeping active snapshot", "error", err)
						continue
					}
					snap := l.policy.Load()
					l.logger.Info("policy reloaded", "version", snap.Version)
					for _, fn := range l.watchers {
						fn(snap)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("fsnotify error", "error", err)
			}
		}
	}()

	return nil
}
