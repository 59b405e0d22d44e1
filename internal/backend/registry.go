package backend

import (
	"fmt"
	"sort"
)

type factory func(cfg Config) (Generator, error)

var registry = map[string]factory{
	"openai": newOpenAI,
	"ollama": newOllama,
}

// New constructs the adapter registered for cfg.Library.
func New(cfg Config) (Generator, error) {
	f, ok := registry[cfg.Library]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnsupportedBackend, cfg.Library, Supported())
	}
	return f(cfg)
}

// Supported lists the registered library keys.
func Supported() []string {
	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
