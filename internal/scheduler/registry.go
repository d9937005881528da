package scheduler

import "sync"

// allFiltersName / allWeighersName are the pseudo-entries that expand to
// every registered constructor, replacing the original's directory-scan
// of nova.cells.filters / nova.cells.weights (spec.md section 4.5).
const (
	allFiltersName  = "all_filters"
	allWeighersName = "all_weighers"
)

var (
	filterMu  sync.RWMutex
	filters   = map[string]func() Filter{}
	weigherMu sync.RWMutex
	weighers  = map[string]func() Weigher{}
)

// RegisterFilter makes a named filter constructor available to Config's
// FilterNames list. Intended to be called from an init() in a file that
// defines a concrete Filter, mirroring a dotted-name import's side effect
// of making a class discoverable.
func RegisterFilter(name string, ctor func() Filter) {
	filterMu.Lock()
	defer filterMu.Unlock()
	filters[name] = ctor
}

// RegisterWeigher is RegisterFilter's counterpart for Weigher.
func RegisterWeigher(name string, ctor func() Weigher) {
	weigherMu.Lock()
	defer weigherMu.Unlock()
	weighers[name] = ctor
}

func resolveFilters(names []string) []Filter {
	filterMu.RLock()
	defer filterMu.RUnlock()
	if containsName(names, allFiltersName) {
		out := make([]Filter, 0, len(filters))
		for _, ctor := range filters {
			out = append(out, ctor())
		}
		return out
	}
	out := make([]Filter, 0, len(names))
	for _, n := range names {
		if ctor, ok := filters[n]; ok {
			out = append(out, ctor())
		}
	}
	return out
}

func resolveWeighers(names []string) []Weigher {
	weigherMu.RLock()
	defer weigherMu.RUnlock()
	if containsName(names, allWeighersName) {
		out := make([]Weigher, 0, len(weighers))
		for _, ctor := range weighers {
			out = append(out, ctor())
		}
		return out
	}
	out := make([]Weigher, 0, len(names))
	for _, n := range names {
		if ctor, ok := weighers[n]; ok {
			out = append(out, ctor())
		}
	}
	return out
}

func containsName(names []string, target string) bool {
	for _, n := range names {
		if n == target {
			return true
		}
	}
	return false
}
