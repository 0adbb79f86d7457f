// Package router is the single-writer heart of a Client: one goroutine
// (Run) owns the catalog, every op chain and both fixpoint buffers. Every
// other goroutine — client API calls, peer connections, callback
// registration — only ever reaches the router by sending a workItem down a
// channel; nothing outside Run ever touches a Table, an op chain or a
// TupleBuf directly.
//
// This mirrors the original's apr_queue_t-fed router thread, with the
// channel playing the role of the APR queue and goroutine scheduling
// replacing network_poll's epoll wait.
package router

import (
	"fmt"

	"github.com/pingcap/errors"
	"github.com/sirupsen/logrus"

	"github.com/bloom-lang/c4/logger"
	"github.com/bloom-lang/c4/server/c4/catalog"
	"github.com/bloom-lang/c4/server/c4/metrics"
	"github.com/bloom-lang/c4/server/c4/operator"
	"github.com/bloom-lang/c4/server/c4/tuple"
)

// DefaultTupleLimit bounds how many tuples a single fixpoint will route
// before giving up and returning ErrFixpointOverrun, replacing the
// original's hardcoded `ntuple_routed >= 3000000: exit(1)`. New uses it
// when Config.TupleLimit is zero; a negative Config.TupleLimit disables
// the limit.
const DefaultTupleLimit = 3_000_000

// ErrFixpointOverrun is returned by a fixpoint that hits its tuple limit
// without converging, almost always a sign of a non-terminating program
// (e.g. a rule lacking the monotonicity a fixpoint computation requires).
var ErrFixpointOverrun = errors.New("router: fixpoint exceeded tuple limit without converging")

// Sender ships a tuple destined for a remote node. Implemented by the net
// package; injected here (rather than imported directly) so router and net
// can each depend on the other's interface without an import cycle.
type Sender interface {
	Send(t *tuple.Tuple, def *catalog.TableDef) error
	// IsLocal reports whether locSpec names an address this process is
	// itself listening on.
	IsLocal(locSpec string) bool
}

// Installer turns program source into live op chains and facts, registering
// both with the Router. Implemented by the installer package; injected for
// the same reason as Sender.
type Installer interface {
	InstallSource(rt *Router, src string) error
}

// Config controls the knobs left implementation-defined by the original.
type Config struct {
	TupleLimit int // 0 selects DefaultTupleLimit (see New); a negative value disables the limit
	QueueDepth int // work-queue channel capacity; the original used 512
}

// workItemKind mirrors the original's WorkItemKind enum.
type workItemKind int

const (
	wiTuple workItemKind = iota
	wiProgram
	wiDumpTable
	wiCallback
	wiShutdown
)

type workItem struct {
	kind workItemKind

	// wiTuple
	tuple    *tuple.Tuple
	tbl      *catalog.TableDef
	isDelete bool // router extension: the original never implements deletion end-to-end

	// wiProgram
	programSrc string
	installErr chan error

	// wiDumpTable
	tblName string
	dumpOut chan dumpResult

	// wiCallback
	cbTblName string
	cb        catalog.Callback
	cbData    interface{}
}

type dumpResult struct {
	text string
	err  error
}

// routeEntry is one pending tuple in route_buf/net_buf: the original's
// TupleBufEntry plus isDelete, since TupleBufEntry has no polarity of its
// own in the source and the original's router never finishes wiring
// deletion through.
type routeEntry struct {
	t        *tuple.Tuple
	def      *catalog.TableDef
	isDelete bool
}

// Router owns the catalog, the op-chain registry and both fixpoint buffers.
// Exactly one goroutine (the one running Run) may touch these fields.
type Router struct {
	Cat *catalog.Catalog

	sender    Sender
	installer Installer
	metrics   *metrics.Registry
	log       *logrus.Entry

	queue chan *workItem

	// opChains is the slab TableDef.OpChainID indexes into; the router
	// owns it so TableDef never needs a direct pointer to its chain list
	// (catalog.go's comment on OpChainID explains why).
	opChains [][]*operator.Chain

	routeBuf []routeEntry
	netBuf   []routeEntry

	ntupleRouted int
	tupleLimit   int

	// deleting is true for the duration of invoking the op chains seeded
	// by a single routeEntry whose isDelete flag is set; operator.Router's
	// IsDeleting() reads it. It is never meaningful outside that one call.
	deleting bool
}

// New builds a Router. sender may be nil for a Client that never registers
// a network listener (every tuple it produces is then necessarily local).
func New(cat *catalog.Catalog, sender Sender, installer Installer, reg *metrics.Registry, cfg Config) *Router {
	limit := cfg.TupleLimit
	if limit == 0 {
		limit = DefaultTupleLimit
	}
	depth := cfg.QueueDepth
	if depth == 0 {
		depth = 512
	}
	return &Router{
		Cat:        cat,
		sender:     sender,
		installer:  installer,
		metrics:    reg,
		log:        logger.With("router"),
		queue:      make(chan *workItem, depth),
		tupleLimit: limit,
	}
}

// SetSender attaches (or replaces) the Sender used to ship remote-bound
// tuples. Transport construction needs a Sink (the Router itself) and
// Router construction needs a Sender (the Transport); SetSender lets a
// caller build the Router first with a nil sender, build the Transport
// from it, then wire the Transport back in before Run starts. Not safe to
// call concurrently with Run — set it before the router goroutine starts.
func (r *Router) SetSender(sender Sender) {
	r.sender = sender
}

// --- operator.Router implementation -----------------------------------
//
// These three methods are called only from inside an op chain Invoke,
// which only ever happens on the Run goroutine while draining routeBuf —
// so they need no locking of their own.

func (r *Router) InsertTuple(tableName string, t *tuple.Tuple, checkRemote bool) {
	def, ok := r.Cat.Lookup(tableName)
	if !ok {
		r.log.Errorf("insert into undefined table %q dropped", tableName)
		return
	}
	r.installTuple(t, def, checkRemote, false)
}

func (r *Router) DeleteTuple(tableName string, t *tuple.Tuple) {
	def, ok := r.Cat.Lookup(tableName)
	if !ok {
		r.log.Errorf("delete from undefined table %q dropped", tableName)
		return
	}
	r.installTuple(t, def, true, true)
}

func (r *Router) IsDeleting() bool { return r.deleting }

// --- public, cross-goroutine API ---------------------------------------

// EnqueueTuple schedules t to be installed into def's table in some future
// fixpoint. Safe to call from any goroutine; t is pinned on behalf of the
// queued item and unpinned once the router has finished with it.
func (r *Router) EnqueueTuple(t *tuple.Tuple, def *catalog.TableDef, isDelete bool) {
	t.Pin()
	r.enqueue(&workItem{kind: wiTuple, tuple: t, tbl: def, isDelete: isDelete})
}

// InstallProgram blocks the caller's goroutine until src has been parsed,
// planned and installed (or until installation fails). Safe to call from
// any goroutine other than Run's own.
func (r *Router) InstallProgram(src string) error {
	ch := make(chan error, 1)
	r.enqueue(&workItem{kind: wiProgram, programSrc: src, installErr: ch})
	return <-ch
}

// DumpTable blocks the caller's goroutine until the router produces a
// newline-separated text dump of every tuple currently in tblName. Safe to
// call from any goroutine other than Run's own.
func (r *Router) DumpTable(tblName string) (string, error) {
	ch := make(chan dumpResult, 1)
	r.enqueue(&workItem{kind: wiDumpTable, tblName: tblName, dumpOut: ch})
	res := <-ch
	return res.text, res.err
}

// EnqueueCallback schedules the registration of a catalog.Callback against
// tblName's TableDef, run on the router goroutine so it can't race a
// concurrent Define of the same table.
func (r *Router) EnqueueCallback(tblName string, cb catalog.Callback, data interface{}) {
	r.enqueue(&workItem{kind: wiCallback, cbTblName: tblName, cb: cb, cbData: data})
}

// EnqueueShutdown asks Run to return after draining everything already
// queued ahead of it.
func (r *Router) EnqueueShutdown() {
	r.enqueue(&workItem{kind: wiShutdown})
}

func (r *Router) enqueue(wi *workItem) {
	r.queue <- wi
	if r.metrics != nil {
		r.metrics.QueueDepth.Set(float64(len(r.queue)))
	}
}

// --- op-chain registry ---------------------------------------------------

// AddOpChain registers c to run whenever a tuple is routed into
// c.DrivingTable, assigning that table's OpChainID slab slot on first use.
// Called only during program installation, itself only ever run on the
// router goroutine (via wiProgram).
func (r *Router) AddOpChain(def *catalog.TableDef, c *operator.Chain) {
	if def.OpChainID < 0 {
		def.OpChainID = len(r.opChains)
		r.opChains = append(r.opChains, nil)
	}
	r.opChains[def.OpChainID] = append(r.opChains[def.OpChainID], c)
}

func (r *Router) chainsFor(def *catalog.TableDef) []*operator.Chain {
	if def.OpChainID < 0 || def.OpChainID >= len(r.opChains) {
		return nil
	}
	return r.opChains[def.OpChainID]
}

// --- the run loop ---------------------------------------------------------

// Run drains the work queue until a shutdown item is seen, running exactly
// one fixpoint after each item — router_main_loop/drain_queue's pairing in
// the original, with channel receive standing in for the APR queue pop and
// an idiomatic Go goroutine standing in for network_poll's epoll wait.
func (r *Router) Run() {
	for wi := range r.queue {
		if r.metrics != nil {
			r.metrics.QueueDepth.Set(float64(len(r.queue)))
		}
		shutdown := r.handleWorkItem(wi)
		if err := r.doFixpoint(); err != nil {
			r.log.WithError(err).Error("fixpoint aborted")
		}
		if shutdown {
			return
		}
	}
}

func (r *Router) handleWorkItem(wi *workItem) (shutdown bool) {
	switch wi.kind {
	case wiTuple:
		r.installTuple(wi.tuple, wi.tbl, false, wi.isDelete)
		wi.tuple.Unpin()
	case wiProgram:
		err := r.installer.InstallSource(r, wi.programSrc)
		wi.installErr <- err
	case wiDumpTable:
		text, err := r.dumpTable(wi.tblName)
		wi.dumpOut <- dumpResult{text: text, err: err}
	case wiCallback:
		def, ok := r.Cat.Lookup(wi.cbTblName)
		if !ok {
			r.log.Errorf("callback registration on undefined table %q dropped", wi.cbTblName)
			break
		}
		def.AddCallback(wi.cb, wi.cbData)
	case wiShutdown:
		return true
	default:
		panic(fmt.Sprintf("router: unrecognized work item kind %d", wi.kind))
	}
	return false
}

// installTuple is router_install_tuple plus the delete-side counterpart
// the original source declares (router_delete_tuple) but never defines.
// check_remote mirrors the original's "a node might have many addresses"
// hack: a tuple freshly produced by an op chain or seeded as a program fact
// is checked for remoteness, but one already arriving off the network
// (a wiTuple work item) is trusted as local.
func (r *Router) installTuple(t *tuple.Tuple, def *catalog.TableDef, checkRemote, isDelete bool) {
	if checkRemote && def.Schema.HasLocSpec() && r.sender != nil {
		locSpec := t.Get(def.Schema.LocCol).String()
		if !r.sender.IsLocal(locSpec) {
			r.netBuf = append(r.netBuf, routeEntry{t: t, def: def, isDelete: isDelete})
			t.Pin()
			return
		}
	}

	var changed bool
	var err error
	if isDelete {
		changed, err = def.Table.Delete(t)
	} else {
		changed, err = def.Table.Insert(t)
	}
	if err != nil {
		r.log.WithError(err).Errorf("storage op on %q failed", def.Name)
		return
	}
	if !changed {
		return // duplicate insert or no-op delete: nothing further to route
	}

	if !isDelete {
		def.InvokeCallbacks(t)
	}
	if r.metrics != nil {
		r.metrics.TableRows.WithLabelValues(def.Name).Set(float64(def.Table.Count()))
	}
	r.routeBuf = append(r.routeBuf, routeEntry{t: t, def: def, isDelete: isDelete})
	t.Pin()
}

// doFixpoint is router_do_fixpoint: drain routeBuf (invoking every op chain
// registered against each tuple's table, which may push more entries onto
// routeBuf or netBuf), then flush netBuf to the network.
func (r *Router) doFixpoint() error {
	r.ntupleRouted = 0
	for len(r.routeBuf) > 0 {
		entry := r.routeBuf[0]
		r.routeBuf = r.routeBuf[1:]

		r.deleting = entry.isDelete
		for _, c := range r.chainsFor(entry.def) {
			c.Invoke(r, entry.t)
		}
		r.deleting = false

		entry.t.Unpin()
		r.ntupleRouted++
		if r.metrics != nil {
			if entry.isDelete {
				r.metrics.TuplesDeleted.Inc()
			} else {
				r.metrics.TuplesRouted.Inc()
			}
		}

		if r.tupleLimit > 0 && r.ntupleRouted >= r.tupleLimit {
			r.routeBuf = nil
			return errors.Trace(ErrFixpointOverrun)
		}
	}

	if r.metrics != nil {
		r.metrics.Fixpoints.Inc()
	}

	if len(r.netBuf) == 0 {
		return nil
	}
	net := r.netBuf
	r.netBuf = nil
	for _, entry := range net {
		if r.sender != nil {
			if err := r.sender.Send(entry.t, entry.def); err != nil {
				r.log.WithError(err).Warnf("send to %q failed", entry.def.Name)
			}
		}
		entry.t.Unpin()
	}
	return nil
}

func (r *Router) dumpTable(tblName string) (string, error) {
	def, ok := r.Cat.Lookup(tblName)
	if !ok {
		return "", errors.Errorf("router: dump of undefined table %q", tblName)
	}
	cur, err := def.Table.Scan()
	if err != nil {
		return "", errors.Trace(err)
	}
	defer cur.Close()

	var sb []byte
	for {
		t, ok := cur.Next()
		if !ok {
			break
		}
		sb = append(sb, t.String()...)
		sb = append(sb, '\n')
	}
	return string(sb), nil
}
