package net

import (
	"bufio"
	"fmt"
	"net"
	"sync"

	"github.com/pingcap/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/bloom-lang/c4/logger"
	"github.com/bloom-lang/c4/server/c4/catalog"
	"github.com/bloom-lang/c4/server/c4/metrics"
	"github.com/bloom-lang/c4/server/c4/router"
	"github.com/bloom-lang/c4/server/c4/tuple"
)

// Sink is the half of router.Router that Transport needs to hand off
// inbound tuples to: EnqueueTuple schedules the tuple for installation in
// some future fixpoint, exactly like any locally-produced tuple. Taking
// this narrow interface (rather than *router.Router) keeps net's only
// router dependency an easily-faked one for tests.
type Sink interface {
	EnqueueTuple(t *tuple.Tuple, def *catalog.TableDef, isDelete bool)
}

// CatalogLookup resolves a table name to its definition, so an inbound
// frame's body can be decoded against the right schema.
type CatalogLookup interface {
	Lookup(name string) (*catalog.TableDef, bool)
}

// peer is one outbound connection, identified by the location spec of the
// node on its far end. Writes are serialized through sendCh so multiple
// router-side goroutines can call Send concurrently without racing the
// socket — mirroring the original's per-ClientState pending_tuples buffer,
// except here the buffering is just the channel.
type peer struct {
	locSpec string
	sendCh  chan sendJob
	done    chan struct{}
}

type sendJob struct {
	tblName string
	body    []byte
}

// Transport is the router.Sender implementation: a TCP listener for
// inbound peers plus a pool of lazily-dialed outbound connections, one per
// distinct location spec a local tuple has ever been routed to. This
// replaces the original's single pollset-driven C4Network with one
// goroutine per connection direction.
type Transport struct {
	localAddr string
	sink      Sink
	cat       CatalogLookup
	metrics   *metrics.Registry
	log       *logrus.Entry

	mu    sync.Mutex
	peers map[string]*peer
	dial  singleflight.Group

	listener net.Listener
}

// New builds a Transport bound to localAddr (the "tcp:host:port" string
// this process advertises as its own address in location-spec columns).
// Listen must be called separately to actually accept inbound connections.
func New(localAddr string, sink Sink, cat CatalogLookup, reg *metrics.Registry) *Transport {
	return &Transport{
		localAddr: localAddr,
		sink:      sink,
		cat:       cat,
		metrics:   reg,
		log:       logger.With("net"),
		peers:     make(map[string]*peer),
	}
}

// Listen starts accepting inbound connections on addr ("host:port", no
// "tcp:" prefix) and returns once the socket is bound; accept loops run on
// a background goroutine. If addr asked for an ephemeral port ("host:0"),
// LocalAddr is updated to reflect the port the kernel actually assigned,
// mirroring get_local_addr's call after c4_make(pool, 0) in the original.
func (tr *Transport) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotate(err, "net: listen")
	}
	tr.listener = l
	if tcpAddr, ok := l.Addr().(*net.TCPAddr); ok {
		if host, _, err := ParseLocSpec(tr.localAddr); err == nil {
			tr.localAddr = "tcp:" + host + ":" + fmt.Sprint(tcpAddr.Port)
		}
	}
	go tr.acceptLoop(l)
	return nil
}

// LocalAddr is the "tcp:host:port" this Transport currently advertises as
// its own address, reflecting any ephemeral port resolved by Listen.
func (tr *Transport) LocalAddr() string { return tr.localAddr }

// Close stops accepting new connections. Already-open peer connections are
// not closed here, and runtime.Terminate does not close them either; they
// stay open until the remote end closes them or the process exits.
func (tr *Transport) Close() error {
	if tr.listener == nil {
		return nil
	}
	return tr.listener.Close()
}

func (tr *Transport) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			tr.log.WithError(err).Info("accept loop exiting")
			return
		}
		go tr.recvLoop(conn)
	}
}

// IsLocal implements router.Sender.
func (tr *Transport) IsLocal(locSpec string) bool {
	return locSpec == tr.localAddr
}

// Send implements router.Sender: it encodes t and enqueues it on the
// outbound peer for def's location-spec value, dialing that peer lazily if
// this is the first tuple ever routed there.
func (tr *Transport) Send(t *tuple.Tuple, def *catalog.TableDef) error {
	locSpec := t.Get(def.Schema.LocCol).String()
	p, err := tr.peerFor(locSpec)
	if err != nil {
		return errors.Trace(err)
	}

	body := make([]byte, 0, 64)
	body = tuple.EncodeBinary(t, body)

	select {
	case p.sendCh <- sendJob{tblName: def.Name, body: body}:
		return nil
	case <-p.done:
		return errors.Errorf("net: peer %q connection closed", locSpec)
	}
}

// peerFor returns the outbound peer for locSpec, dialing it if this is the
// first tuple ever routed there. Concurrent callers racing to dial the same
// never-seen locSpec collapse onto a single dial via dial.Do, rather than
// each opening (and one of them discarding) its own socket.
func (tr *Transport) peerFor(locSpec string) (*peer, error) {
	tr.mu.Lock()
	if p, ok := tr.peers[locSpec]; ok {
		tr.mu.Unlock()
		return p, nil
	}
	tr.mu.Unlock()

	v, err, _ := tr.dial.Do(locSpec, func() (interface{}, error) {
		tr.mu.Lock()
		if existing, ok := tr.peers[locSpec]; ok {
			tr.mu.Unlock()
			return existing, nil
		}
		tr.mu.Unlock()

		host, port, err := ParseLocSpec(locSpec)
		if err != nil {
			return nil, errors.Trace(err)
		}
		conn, err := net.Dial("tcp", host+":"+port)
		if err != nil {
			return nil, errors.Annotatef(err, "net: dial %q", locSpec)
		}

		p := &peer{locSpec: locSpec, sendCh: make(chan sendJob, 64), done: make(chan struct{})}
		tr.mu.Lock()
		tr.peers[locSpec] = p
		tr.mu.Unlock()

		go tr.sendLoop(conn, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*peer), nil
}

func (tr *Transport) sendLoop(conn net.Conn, p *peer) {
	defer conn.Close()
	defer close(p.done)
	w := bufio.NewWriter(conn)
	for job := range p.sendCh {
		if err := WriteFrame(w, job.tblName, job.body); err != nil {
			tr.log.WithError(err).Warnf("send to %q failed, dropping connection", p.locSpec)
			tr.mu.Lock()
			delete(tr.peers, p.locSpec)
			tr.mu.Unlock()
			return
		}
		if tr.metrics != nil {
			tr.metrics.NetBytesSent.Add(float64(2 + len(job.tblName) + 4 + len(job.body)))
		}
	}
}

// recvLoop is deserialize_tuple's loop: read frames off conn until EOF,
// decode each against the named table's current schema, and hand the
// result to the router as an insert installed with check_remote=false,
// since a tuple that arrived over the wire is by definition destined for
// this node.
func (tr *Transport) recvLoop(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		tblName, body, err := ReadFrame(r)
		if err != nil {
			return
		}
		if tr.metrics != nil {
			tr.metrics.NetBytesRecv.Add(float64(2 + len(tblName) + 4 + len(body)))
		}

		def, ok := tr.cat.Lookup(tblName)
		if !ok {
			tr.log.Errorf("inbound frame for undefined table %q dropped", tblName)
			continue
		}
		t := tuple.DecodeBinary(def.Schema, body)
		tr.sink.EnqueueTuple(t, def, false)
		t.Unpin()
	}
}

var _ router.Sender = (*Transport)(nil)
