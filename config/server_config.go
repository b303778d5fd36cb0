// Package config loads command/server's YAML configuration file and
// watches it for changes, grounded on how haraldrudell-parl pairs
// gopkg.in/yaml.v2 with fsnotify to pick up edited config without a
// restart.
package config

import (
	"io/ioutil"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// ServerConfig is command/server's on-disk configuration.
type ServerConfig struct {
	// Address is the HTTP listen address. Defaults to ":12000".
	Address string `yaml:"address"`

	// DeadlockDetectorInterval is how often the deadlock detector sweeps
	// the wait-for graph. Defaults to 3s.
	DeadlockDetectorInterval time.Duration `yaml:"-"`
}

// rawServerConfig mirrors the on-disk YAML shape. The duration is read here
// as a string and parsed with time.ParseDuration instead of tagging the field
// directly on ServerConfig, so it must carry a unit ("3s", "500ms"); a bare
// number is rejected.
type rawServerConfig struct {
	Address                  string `yaml:"address"`
	DeadlockDetectorInterval string `yaml:"deadlock_detector_interval"`
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.Address == "" {
		c.Address = ":12000"
	}
	if c.DeadlockDetectorInterval <= 0 {
		c.DeadlockDetectorInterval = 3 * time.Second
	}
	return c
}

// Load reads and parses a ServerConfig from path, applying defaults for any
// field left unset.
func Load(path string) (ServerConfig, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return ServerConfig{}, errors.Wrap(err, "reading server config")
	}

	var rawCfg rawServerConfig
	if err := yaml.Unmarshal(raw, &rawCfg); err != nil {
		return ServerConfig{}, errors.Wrap(err, "parsing server config")
	}

	cfg := ServerConfig{Address: rawCfg.Address}
	if rawCfg.DeadlockDetectorInterval != "" {
		interval, err := time.ParseDuration(rawCfg.DeadlockDetectorInterval)
		if err != nil {
			return ServerConfig{}, errors.Wrap(err, "parsing deadlock_detector_interval")
		}
		cfg.DeadlockDetectorInterval = interval
	}

	return cfg.withDefaults(), nil
}

// Watch loads path once and invokes onChange with every subsequent parse
// that succeeds, whenever fsnotify reports the file was written or
// recreated (editors commonly replace a file rather than writing it
// in-place). A failed re-parse is dropped silently rather than invoking
// onChange with a zero-value config; the caller keeps running on its last
// good configuration.
//
// Watch returns the initial config and a stop function; it does not block.
func Watch(path string, onChange func(ServerConfig)) (ServerConfig, func() error, error) {
	initial, err := Load(path)
	if err != nil {
		return ServerConfig{}, nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return ServerConfig{}, nil, errors.Wrap(err, "starting config watcher")
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return ServerConfig{}, nil, errors.Wrap(err, "watching server config")
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if cfg, err := Load(path); err == nil {
					onChange(cfg)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return initial, watcher.Close, nil
}
