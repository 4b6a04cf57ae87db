package core

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// catalog holds the module constructors compiled into the binary.
type catalog struct {
	mu    sync.RWMutex
	infos map[ModuleID]ModuleInfo
}

var registered = &catalog{infos: make(map[ModuleID]ModuleInfo)}

func (c *catalog) add(info ModuleInfo) error {
	switch {
	case !info.ID.Valid():
		return fmt.Errorf("invalid module ID %q", info.ID)
	case info.New == nil:
		return fmt.Errorf("module %s has no constructor", info.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.infos[info.ID]; dup {
		return fmt.Errorf("module %s registered twice", info.ID)
	}
	c.infos[info.ID] = info
	return nil
}

func (c *catalog) get(id ModuleID) (ModuleInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.infos[id]
	return info, ok
}

func (c *catalog) all() []ModuleInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.SortedFunc(maps.Values(c.infos), func(a, b ModuleInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

// RegisterModule adds a module to the catalog. It is meant for init
// functions and panics on an invalid or duplicate ID.
func RegisterModule(instance Module) {
	if err := registered.add(instance.ModuleInfo()); err != nil {
		panic("core: " + err.Error())
	}
}

// GetModule returns the registered module with the given ID.
func GetModule(id string) (ModuleInfo, bool) {
	return registered.get(ModuleID(id))
}

// GetModules returns every registered module sorted by ID.
func GetModules() []ModuleInfo {
	return registered.all()
}

// resetRegistry empties the catalog for tests.
func resetRegistry() {
	registered.mu.Lock()
	defer registered.mu.Unlock()
	clear(registered.infos)
}
