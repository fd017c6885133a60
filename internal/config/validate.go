package config

import (
	"fmt"
	"strings"
)

// Validate checks the parts of the config the JSON decoder cannot.
// Task params are not checked here; each scheduler validates its own.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if _, err := cfg.Host.Location(); err != nil {
		return fmt.Errorf("host.timezone: %w", err)
	}
	if cfg.Host.RatePerSec < 0 {
		return fmt.Errorf("host.rate_per_sec must be >= 0")
	}
	if _, err := cfg.StorageSettings(); err != nil {
		return err
	}
	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
		}
	}

	seen := make(map[string]struct{}, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("tasks[%d].name is required", i)
		}
		if strings.TrimSpace(t.Class) == "" {
			return fmt.Errorf("tasks[%d] (%s): class is required", i, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("tasks[%d]: duplicate task name %q", i, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// TaskChanges lists task names added, removed and changed between two configs.
func TaskChanges(oldCfg, newCfg *Config) (added, removed, changed []string) {
	index := func(c *Config) map[string]TaskConfig {
		m := map[string]TaskConfig{}
		if c == nil {
			return m
		}
		for _, t := range c.Tasks {
			m[t.Name] = t
		}
		return m
	}
	oldT, newT := index(oldCfg), index(newCfg)
	for name, nt := range newT {
		ot, ok := oldT[name]
		switch {
		case !ok:
			added = append(added, name)
		case !ot.Equal(nt):
			changed = append(changed, name)
		}
	}
	for name := range oldT {
		if _, ok := newT[name]; !ok {
			removed = append(removed, name)
		}
	}
	return added, removed, changed
}
