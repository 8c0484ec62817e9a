package agent

import (
	"sync"

	"github.com/fastapi-guard/agent-go/model"
)

var (
	registryMu sync.Mutex
	registry   = make(map[string]*Handler)
)

// Get returns the Handler for cfg's (api_key, project_id, endpoint)
// tuple, constructing one on first call. A second call with the same
// key but a different configuration returns *ConfigConflict instead
// of silently replacing the existing handler's frozen configuration.
func Get(cfg *model.AgentConfig) (*Handler, error) {
	key := cfg.Key()

	registryMu.Lock()
	defer registryMu.Unlock()

	if h, ok := registry[key]; ok {
		if !h.cfg.Equal(cfg) {
			return nil, newConfigConflict(cfg)
		}
		return h, nil
	}

	h := newHandler(cfg)
	registry[key] = h
	return h, nil
}

// ResetRegistryForTest clears the package-level singleton registry. It
// exists solely for tests that need a clean slate between cases that
// would otherwise collide on the same configuration key.
func ResetRegistryForTest() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]*Handler)
}
