package tuple

import (
	"sync"

	"github.com/bloom-lang/c4/server/c4/datum"
)

// Pool is a per-row-size slab allocator. It grows by adding a block twice
// the size of its previous one (64 slots first) and keeps a LIFO freelist
// of slots returned by release; it never shrinks, matching the source's tuple_pool.c design
// (bounded growth, no GC pressure from tuple churn in hot fixpoint loops).
type Pool struct {
	mu       sync.Mutex
	arity    int
	blocks   [][]Tuple
	freelist []*Tuple
}

const initialBlockSize = 64

func newPool(arity int) *Pool {
	return &Pool{arity: arity}
}

// Get returns a zeroed Tuple slot owned by this pool.
func (p *Pool) Get() *Tuple {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.freelist); n > 0 {
		t := p.freelist[n-1]
		p.freelist = p.freelist[:n-1]
		return t
	}
	p.grow()
	n := len(p.freelist)
	t := p.freelist[n-1]
	p.freelist = p.freelist[:n-1]
	return t
}

// grow allocates the first block, or a block twice the size of the last
// one, and pushes every new slot onto the freelist.
func (p *Pool) grow() {
	size := initialBlockSize
	if len(p.blocks) > 0 {
		size = len(p.blocks[len(p.blocks)-1]) * 2
	}
	block := make([]Tuple, size)
	p.blocks = append(p.blocks, block)
	for i := range block {
		block[i].pool = p
		block[i].vals = make([]datum.Datum, p.arity)
		p.freelist = append(p.freelist, &block[i])
	}
}

// release returns a slot to the freelist. Called only once a Tuple's
// refcount has reached zero.
func (p *Pool) release(t *Tuple) {
	p.mu.Lock()
	p.freelist = append(p.freelist, t)
	p.mu.Unlock()
}

// Mgr maps row arity to the Pool serving tuples of that arity, mirroring
// the source's process-wide TuplePoolMgr. A single Mgr is shared by every
// Client in the process (tuple allocation is arena-free and process-global
// by design).
type Mgr struct {
	mu    sync.Mutex
	pools map[int]*Pool
}

var defaultMgr = NewMgr()

// NewMgr constructs an independent pool manager; tests use this to avoid
// sharing slabs across unrelated Clients.
func NewMgr() *Mgr {
	return &Mgr{pools: make(map[int]*Pool)}
}

func (m *Mgr) poolFor(arity int) *Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[arity]
	if !ok {
		p = newPool(arity)
		m.pools[arity] = p
	}
	return p
}
