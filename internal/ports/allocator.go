// Package ports implements the host-loopback port allocator (C6, §4.6)
// that the Docker backend draws dev-server bindings from and the reverse
// proxy consults to resolve a sandbox id to a forwarding target.
package ports

import "sync"

const defaultBasePort = 8080

// Allocator hands out host ports for dev-server containers. It is a single
// mutex over a next-port cursor and a sandbox-id-to-port mapping; every
// operation is O(1) in the common case (§4.6).
type Allocator struct {
	mu     sync.Mutex
	cursor int
	ports  map[string]int
	taken  map[int]bool
}

// NewAllocator constructs an Allocator whose cursor starts at base. A
// base <= 0 defaults to 8080.
func NewAllocator(base int) *Allocator {
	if base <= 0 {
		base = defaultBasePort
	}
	return &Allocator{
		cursor: base,
		ports:  make(map[string]int),
		taken:  make(map[int]bool),
	}
}

// Allocate returns id's existing port if one was already assigned,
// otherwise scans upward from the cursor for the first free port,
// reserves it, and advances the cursor past it.
func (a *Allocator) Allocate(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port, ok := a.ports[id]; ok {
		return port
	}

	port := a.cursor
	for a.taken[port] {
		port++
	}
	a.ports[id] = port
	a.taken[port] = true
	a.cursor = port + 1
	return port
}

// Deallocate releases id's port, if any.
func (a *Allocator) Deallocate(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if port, ok := a.ports[id]; ok {
		delete(a.taken, port)
		delete(a.ports, id)
	}
}

// Get looks up id's allocated port without assigning one.
func (a *Allocator) Get(id string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	port, ok := a.ports[id]
	return port, ok
}
