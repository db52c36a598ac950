package source

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/brand-ratings/internal/config"
	"github.com/sells-group/brand-ratings/internal/fetcher"
)

// Registry maps campaign IDs to their sources.
type Registry struct {
	sources map[string]Source
	order   []string // insertion order for deterministic iteration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

// FromConfig builds a registry with one feed per configured campaign.
func FromConfig(campaigns []config.CampaignConfig, f fetcher.Fetcher) (*Registry, error) {
	r := NewRegistry()
	for _, c := range campaigns {
		feed, err := New(Options{
			ID:            c.ID,
			Format:        c.Format,
			Path:          c.Path,
			URL:           c.URL,
			Sheet:         c.Sheet,
			ListSeparator: c.ListSeparator,
		}, f)
		if err != nil {
			return nil, err
		}
		if err := r.Register(feed); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a source. Campaign IDs must be unique.
func (r *Registry) Register(s Source) error {
	name := s.Name()
	if _, dup := r.sources[name]; dup {
		return eris.Errorf("source: campaign %q registered twice", name)
	}
	r.sources[name] = s
	r.order = append(r.order, name)
	return nil
}

// Get returns a source by campaign ID.
func (r *Registry) Get(name string) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, eris.Errorf("source: unknown campaign %q", name)
	}
	return s, nil
}

// Select returns the named sources in the given order, or every source when
// names is empty.
func (r *Registry) Select(names []string) ([]Source, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	result := make([]Source, 0, len(names))
	for _, name := range names {
		s, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, nil
}

// All returns all sources in registration order.
func (r *Registry) All() []Source {
	result := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.sources[name])
	}
	return result
}

// Names returns all campaign IDs in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
