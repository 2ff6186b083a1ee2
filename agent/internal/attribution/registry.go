package attribution

import "fmt"

// Reserved state names. They are never accepted as channel names.
const (
	StartState      = "START"
	ConversionState = "CONVERSION"
)

// Registry is the immutable, ordered set of channels an Engine attributes to.
// It is safe for concurrent use because it never changes after NewRegistry.
type Registry struct {
	names []string
	index map[string]int
}

// NewRegistry validates names and returns a Registry preserving their order.
// The set must be non-empty with no duplicates, no empty names and no
// reserved state names.
func NewRegistry(names []string) (*Registry, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("attribution: registry: at least one channel is required")
	}
	r := &Registry{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, n := range names {
		switch n {
		case "":
			return nil, fmt.Errorf("attribution: registry: channel %d has an empty name", i)
		case StartState, ConversionState:
			return nil, fmt.Errorf("attribution: registry: channel name %q is reserved", n)
		}
		if _, dup := r.index[n]; dup {
			return nil, fmt.Errorf("attribution: registry: duplicate channel %q", n)
		}
		r.names[i] = n
		r.index[n] = i
	}
	return r, nil
}

// Len returns the number of registered channels.
func (r *Registry) Len() int { return len(r.names) }

// Index returns the position of name in the registry.
func (r *Registry) Index(name string) (int, bool) {
	i, ok := r.index[name]
	return i, ok
}

// Name returns the channel at position i.
func (r *Registry) Name(i int) string { return r.names[i] }

// Names returns a copy of the channel names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// resolve maps a path of channel names to registry indices.
func (r *Registry) resolve(path []string) ([]int, error) {
	if len(path) == 0 {
		return nil, &InvalidPathError{Reason: ReasonEmptyPath, Position: -1}
	}
	idx := make([]int, len(path))
	for i, name := range path {
		j, ok := r.index[name]
		if !ok {
			return nil, &InvalidPathError{Reason: ReasonUnknownChannel, Channel: name, Position: i}
		}
		idx[i] = j
	}
	return idx, nil
}
