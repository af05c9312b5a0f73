// Package supervisor routes queries to agents and coordinates
// handoffs between them.
package supervisor

import (
	"sort"
	"sync"
)

const (
	// DefaultMemoryBudget caps the serialised size of shared memory.
	DefaultMemoryBudget = 8192
	// DefaultMemoryMinChars is the floor a truncated entry shrinks to
	// before being dropped outright.
	DefaultMemoryMinChars = 100
)

// DefaultMemoryPriorities ranks well-known keys from most to least
// important. Unlisted keys rank below all listed ones.
var DefaultMemoryPriorities = []string{
	"task_description",
	"user_constraints",
	"key_findings",
	"sources",
	"scratch",
}

// SharedMemory is the string map carried across handoffs. Every
// mutation re-enforces the byte budget so the map can always be
// serialised into a prompt.
type SharedMemory struct {
	mu         sync.RWMutex
	entries    map[string]string
	budget     int
	minChars   int
	priorities map[string]int
}

// NewSharedMemory builds a bounded map. Zero arguments use defaults.
func NewSharedMemory(budget, minChars int, priorities []string) *SharedMemory {
	if budget <= 0 {
		budget = DefaultMemoryBudget
	}
	if minChars <= 0 {
		minChars = DefaultMemoryMinChars
	}
	if priorities == nil {
		priorities = DefaultMemoryPriorities
	}
	ranks := make(map[string]int, len(priorities))
	for i, key := range priorities {
		ranks[key] = i
	}
	return &SharedMemory{
		entries:    make(map[string]string),
		budget:     budget,
		minChars:   minChars,
		priorities: ranks,
	}
}

// Set stores a value and re-enforces the budget.
func (m *SharedMemory) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	m.enforceLocked()
}

// Get returns a value.
func (m *SharedMemory) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

// Delete removes a key.
func (m *SharedMemory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Snapshot copies the current entries.
func (m *SharedMemory) Snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Size is the serialised byte size: keys plus values.
func (m *SharedMemory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeLocked()
}

func (m *SharedMemory) sizeLocked() int {
	total := 0
	for k, v := range m.entries {
		total += len(k) + len(v)
	}
	return total
}

// rank orders keys for truncation: listed priorities first in order,
// unlisted keys after them sorted for determinism.
func (m *SharedMemory) rankedKeysLocked() []string {
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ri, iok := m.priorities[keys[i]]
		rj, jok := m.priorities[keys[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		case jok:
			return false
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

// enforceLocked trims the map back under budget. Lowest-priority
// entries are truncated to minChars first; if that is not enough they
// are dropped entirely, still lowest priority first.
func (m *SharedMemory) enforceLocked() {
	if m.sizeLocked() <= m.budget {
		return
	}

	keys := m.rankedKeysLocked()
	for i := len(keys) - 1; i >= 0 && m.sizeLocked() > m.budget; i-- {
		key := keys[i]
		if len(m.entries[key]) > m.minChars {
			m.entries[key] = cutAtRune(m.entries[key], m.minChars)
		}
	}
	for i := len(keys) - 1; i >= 0 && m.sizeLocked() > m.budget; i-- {
		delete(m.entries, keys[i])
	}
}

// cutAtRune truncates to at most max bytes without splitting a rune.
func cutAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && s[cut]&0xc0 == 0x80 {
		cut--
	}
	return s[:cut]
}
