package remotehook

import (
	"errors"
	"slices"
	"sync"
)

// Registry tracks installed hooks by jump address and refuses a second
// hook on an address already taken.
type Registry struct {
	// protect the hooks map
	lock sync.Mutex
	// hooks applied with jump addresses as keys
	hooks map[uintptr]*Hook
}

func NewRegistry() *Registry {
	return &Registry{hooks: make(map[uintptr]*Hook)}
}

// Install locates h and installs it unless another hook owns the address.
// If Install fails partway, h is left for the caller to Uninstall.
func (r *Registry) Install(h *Hook) error {
	from, err := h.Locate()
	if err != nil {
		return err
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.hooks[from]; ok {
		return ErrDoubleHook
	}
	if err := h.Install(); err != nil {
		return err
	}
	r.hooks[from] = h
	return nil
}

// Uninstall removes the hook at address. The hook stays registered while
// its original bytes are not restored or any of its allocations could not
// be freed, so the call can be retried.
func (r *Registry) Uninstall(address uintptr) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	h, ok := r.hooks[address]
	if !ok {
		return ErrNotInstalled
	}
	err := h.Uninstall()
	if h.released() {
		delete(r.hooks, address)
	}
	return err
}

// UninstallAll removes every hook, in address order, and reports every
// failure. Hooks that could not be fully released stay registered.
func (r *Registry) UninstallAll() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	var errs []error
	addresses := make([]uintptr, 0, len(r.hooks))
	for address := range r.hooks {
		addresses = append(addresses, address)
	}
	slices.Sort(addresses)
	for _, address := range addresses {
		h := r.hooks[address]
		if err := h.Uninstall(); err != nil {
			errs = append(errs, err)
		}
		if h.released() {
			delete(r.hooks, address)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) Lookup(address uintptr) (*Hook, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	h, ok := r.hooks[address]
	return h, ok
}

func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.hooks)
}
