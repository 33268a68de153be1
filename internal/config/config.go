// Package config loads and hot-reloads the configuration for a single
// asyncmy Pool: connection target, credentials, pool sizing, and per-
// statement defaults.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for an asyncmy client.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Pool      PoolConfig      `yaml:"pool"`
	Statement StatementConfig `yaml:"statement"`
	Charset   byte            `yaml:"charset"`
}

// BackendConfig identifies the single MySQL/MariaDB server this Pool
// dials; there is no tenant map, since a client library serves one
// backend per Pool.
type BackendConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"dbname"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// PoolConfig controls the Pool's capacity.
type PoolConfig struct {
	Size int `yaml:"size"`
}

// StatementConfig controls defaults applied to every prepared Statement.
type StatementConfig struct {
	Prefetch int `yaml:"prefetch"`
}

// Redacted returns a copy of the BackendConfig with the password masked,
// safe to log.
func (b BackendConfig) Redacted() BackendConfig {
	c := b
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	return c
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Pool.Size == 0 {
		cfg.Pool.Size = 10
	}
	if cfg.Statement.Prefetch == 0 {
		cfg.Statement.Prefetch = 4
	}
	if cfg.Charset == 0 {
		cfg.Charset = 45 // utf8mb4_general_ci
	}
	if cfg.Backend.Port == 0 {
		cfg.Backend.Port = 3306
	}
}

func validate(cfg *Config) error {
	if cfg.Backend.Host == "" {
		return fmt.Errorf("backend: host is required")
	}
	if cfg.Backend.Database == "" {
		return fmt.Errorf("backend: dbname is required")
	}
	if cfg.Backend.Username == "" {
		return fmt.Errorf("backend: username is required")
	}
	if cfg.Pool.Size < 0 {
		return fmt.Errorf("pool: size must be >= 0")
	}
	if cfg.Statement.Prefetch < 0 {
		return fmt.Errorf("statement: prefetch must be >= 0")
	}
	return nil
}

// Reconfigurable is implemented by anything a Watcher can push a live
// config update to — satisfied by *asyncmy.Pool.
type Reconfigurable interface {
	Reconfigure(size int, prefetch int)
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	// Debounce timer to avoid rapid reloads.
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
