package config

import (
	"slices"
	"time"

	"execbin/internal/storage"
	"execbin/internal/task"
	logx "execbin/pkg/logx"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Host    HostConfig    `json:"host"`

	Storage *StorageConfig `json:"storage,omitempty"`
	Tasks   []TaskConfig   `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HostConfig controls the task host.
//
// Defaults (when fields are omitted/zero):
//   - timezone: Local
//   - rate_per_sec: 50 procedure calls per second
type HostConfig struct {
	Timezone   string `json:"timezone,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./execbin.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TaskConfig declares one task: a scheduler class and its positional params.
//
// Enabled is a pointer so an omitted value means enabled.
type TaskConfig struct {
	Name    string      `json:"name"`
	Class   string      `json:"class"`
	Enabled *bool       `json:"enabled,omitempty"`
	Params  task.Params `json:"params,omitempty"`
}

func (t TaskConfig) IsEnabled() bool { return t.Enabled == nil || *t.Enabled }

// Equal reports whether two task declarations would build the same task.
func (t TaskConfig) Equal(o TaskConfig) bool {
	return t.Name == o.Name && t.Class == o.Class && t.IsEnabled() == o.IsEnabled() && slices.Equal(t.Params, o.Params)
}

func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

// StorageSettings converts the section into storage.Config.
// A nil section disables storage.
func (c *Config) StorageSettings() (storage.Config, error) {
	if c == nil || c.Storage == nil {
		return storage.Config{}, nil
	}
	busy, err := durationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: c.Storage.Driver, Path: c.Storage.Path, BusyTimeout: busy}, nil
}

// Location resolves host.timezone, defaulting to Local.
func (h HostConfig) Location() (*time.Location, error) {
	if h.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(h.Timezone)
}

// EnabledTasks returns the tasks that should be running.
func (c *Config) EnabledTasks() []TaskConfig {
	if c == nil {
		return nil
	}
	out := make([]TaskConfig, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		if t.IsEnabled() {
			out = append(out, t)
		}
	}
	return out
}
