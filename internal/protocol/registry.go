// ABOUTME: Named registry of protocol drivers.
// ABOUTME: Drivers register from init; the binary picks one by config name.

package protocol

import (
	"fmt"
	"sort"
	"sync"
)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Dialer)
)

// Register makes a driver available under name. It panics on a nil dialer or
// a duplicate name.
func Register(name string, d Dialer) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("protocol: Register dialer is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("protocol: Register called twice for driver " + name)
	}
	drivers[name] = d
}

// Lookup returns the driver registered under name.
func Lookup(name string) (Dialer, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown driver %q (registered: %v)", name, driverNamesLocked())
	}
	return d, nil
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	return driverNamesLocked()
}

func driverNamesLocked() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
