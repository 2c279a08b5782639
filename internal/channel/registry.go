package channel

import (
	"fmt"

	"omnidesk.app/core/internal/model"
)

// Registry maps a platform to its adapter. Lookups are read-only after
// construction so no locking is needed.
type Registry struct {
	adapters map[model.Platform]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[model.Platform]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Platform()] = a
	}
	return &Registry{adapters: m}
}

// DefaultRegistry wires every supported platform.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewSlackAdapter(),
		NewDiscordAdapter(),
		NewTelegramAdapter(),
		NewTwilioAdapter(),
		NewMetaAdapter(),
		NewEmailAdapter(nil),
		NewWidgetAdapter(),
	)
}

func (r *Registry) Get(platform model.Platform) (Adapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for platform %q", platform)
	}
	return a, nil
}

// Pollers returns the subset of adapters that fetch messages by polling
// rather than receiving webhooks.
func (r *Registry) Pollers() []Poller {
	var out []Poller
	for _, a := range r.adapters {
		if p, ok := a.(Poller); ok {
			out = append(out, p)
		}
	}
	return out
}
