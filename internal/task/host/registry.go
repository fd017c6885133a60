package host

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"execbin/internal/task"
)

// Registry maps class names to scheduler factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]task.Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]task.Factory{}}
}

func (r *Registry) Register(class string, f task.Factory) error {
	class = strings.TrimSpace(class)
	if class == "" {
		return fmt.Errorf("class name is required")
	}
	if f == nil {
		return fmt.Errorf("class %s: nil factory", class)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[class]; ok {
		return fmt.Errorf("%w: %s", ErrClassExists, class)
	}
	r.factories[class] = f
	return nil
}

func (r *Registry) Lookup(class string) (task.Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[strings.TrimSpace(class)]
	return f, ok
}

// Classes returns the registered class names, sorted.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.factories))
	for c := range r.factories {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
