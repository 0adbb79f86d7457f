// Package catalog owns the name -> TableDef registry that both the
// installer (populating it from a ProgramPlan) and the router (routing
// tuples by delta table) consult on every operation.
package catalog

import (
	"fmt"
	"sync"

	"github.com/bloom-lang/c4/server/c4/schema"
	"github.com/bloom-lang/c4/server/c4/storage"
	"github.com/bloom-lang/c4/server/c4/tuple"
)

// StorageKind selects the backing Table implementation for a TableDef.
type StorageKind int

const (
	Memory StorageKind = iota
	SQLite
)

// Callback is invoked synchronously on the runtime goroutine after a
// non-duplicate insert into the owning TableDef. Callbacks must not
// re-enter the Client on the same goroutine — they may only signal
// other goroutines.
type Callback func(t *tuple.Tuple, def *TableDef, data interface{})

type callbackEntry struct {
	fn   Callback
	data interface{}
}

// TableDef is immutable after creation except for its callback list and its
// OpChainID, both of which are appended to by the installer/router during
// program installation.
type TableDef struct {
	Name     string
	Kind     StorageKind
	Schema   *schema.Schema
	Keys     []int
	Table    storage.Table

	mu        sync.Mutex
	callbacks []callbackEntry

	// OpChainID is a router-owned slab index rather than a direct pointer,
	// breaking the TableDef<->OpChainList reference cycle: the router owns
	// the slab, TableDef only ever holds an integer key into it. -1 until
	// the router first creates an entry for this table.
	OpChainID int
}

func (d *TableDef) LocCol() int { return d.Schema.LocCol }

func (d *TableDef) AddCallback(fn Callback, data interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, callbackEntry{fn, data})
}

// InvokeCallbacks runs every registered callback for a newly-inserted
// tuple, in registration order.
func (d *TableDef) InvokeCallbacks(t *tuple.Tuple) {
	d.mu.Lock()
	cbs := append([]callbackEntry(nil), d.callbacks...)
	d.mu.Unlock()
	for _, cb := range cbs {
		cb.fn(t, d, cb.data)
	}
}

// Catalog is the name -> TableDef registry for one Client. It is touched
// only by the runtime goroutine, so it needs no internal locking beyond
// what protects dump/debug access from other goroutines (TableDef lookups
// used by e.g. metrics).
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*TableDef
}

func New() *Catalog {
	return &Catalog{tables: make(map[string]*TableDef)}
}

// Define registers a new table. Duplicate names are rejected — a program
// may not redefine a table.
func (c *Catalog) Define(name string, kind StorageKind, sch *schema.Schema, keys []int, tbl storage.Table) (*TableDef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tables[name]; exists {
		return nil, fmt.Errorf("catalog: duplicate table definition %q", name)
	}
	def := &TableDef{
		Name:      name,
		Kind:      kind,
		Schema:    sch,
		Keys:      keys,
		Table:     tbl,
		OpChainID: -1,
	}
	c.tables[name] = def
	return def, nil
}

func (c *Catalog) Lookup(name string) (*TableDef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.tables[name]
	return d, ok
}

func (c *Catalog) MustLookup(name string) *TableDef {
	d, ok := c.Lookup(name)
	if !ok {
		panic(fmt.Sprintf("catalog: unknown table %q", name))
	}
	return d
}

// Names returns every defined table name; used by dump/debug tooling.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for n := range c.tables {
		names = append(names, n)
	}
	return names
}

// Close releases every backing Table (closing SQLite handles, etc.).
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, def := range c.tables {
		if err := def.Table.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
