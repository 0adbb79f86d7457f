// Package runtime assembles one Client: a catalog, a storage-backed
// SQLite handle, a metrics registry, the installer and network transport,
// and the single router goroutine that ties them together. This is
// c4_make/c4_initialize/c4_destroy from the original's runtime.c, adapted
// into a Go constructor plus explicit Start/Terminate lifecycle methods instead
// of a global apr_pool_t-rooted teardown.
package runtime

import (
	"database/sql"
	"os"
	"time"

	"github.com/pingcap/errors"
	_ "modernc.org/sqlite"

	"github.com/bloom-lang/c4/logger"
	"github.com/bloom-lang/c4/server/c4/catalog"
	"github.com/bloom-lang/c4/server/c4/installer"
	"github.com/bloom-lang/c4/server/c4/metrics"
	c4net "github.com/bloom-lang/c4/server/c4/net"
	"github.com/bloom-lang/c4/server/c4/router"
	"github.com/bloom-lang/c4/server/conf"

	"github.com/prometheus/client_golang/prometheus"
)

// Client is one running c4 node: it owns a router goroutine, a catalog, a
// SQLite handle shared by every sqlite-backed table, and a TCP transport
// for talking to peer Clients.
type Client struct {
	cfg     *conf.Config
	cat     *catalog.Catalog
	db      *sql.DB
	metrics *metrics.Registry
	reg     *prometheus.Registry
	rt      *router.Router
	tr      *c4net.Transport

	doneCh      chan struct{}
	samplerStop chan struct{}
}

// New builds a Client from cfg but does not yet bind a socket or start the
// router goroutine; call Start for that. Building and starting are
// separate so tests can inspect a freshly-built Client's catalog before
// any program has been installed.
func New(cfg *conf.Config) (*Client, error) {
	if err := cfg.EnsurePortDir(); err != nil {
		return nil, errors.Annotate(err, "runtime: create home directory")
	}

	db, err := sql.Open("sqlite", cfg.SQLitePath())
	if err != nil {
		return nil, errors.Annotate(err, "runtime: open sqlite")
	}

	cat := catalog.New()
	reg := prometheus.NewRegistry()
	mreg := metrics.New(reg)
	ins := installer.New(db)

	rtCfg := router.Config{TupleLimit: cfg.TupleLimit, QueueDepth: cfg.QueueDepth}
	rt := router.New(cat, nil, ins, mreg, rtCfg)
	tr := c4net.New(cfg.LocalAddr(), rt, cat, mreg)
	rt.SetSender(tr)

	return &Client{
		cfg:         cfg,
		cat:         cat,
		db:          db,
		metrics:     mreg,
		reg:         reg,
		rt:          rt,
		tr:          tr,
		doneCh:      make(chan struct{}),
		samplerStop: make(chan struct{}),
	}, nil
}

// Start binds the TCP listener and launches the router goroutine. Returns
// once the listener is bound; the router loop itself runs in the
// background until Terminate.
func (c *Client) Start() error {
	if err := c.tr.Listen(c.cfg.ListenAddr()); err != nil {
		return errors.Annotate(err, "runtime: start transport")
	}
	go func() {
		c.rt.Run()
		close(c.doneCh)
	}()
	c.metrics.StartProcessSampler(5*time.Second, c.samplerStop)
	logger.With("runtime").Infof("client listening at %s", c.tr.LocalAddr())
	return nil
}

// InstallFile parses, analyzes, plans and installs the program at path,
// blocking until installation completes or fails.
func (c *Client) InstallFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Annotate(err, "runtime: read program file")
	}
	return c.InstallStr(string(data))
}

// InstallStr is InstallFile without the filesystem read, for callers that
// already have program source in memory (e.g. tests).
func (c *Client) InstallStr(src string) error {
	return c.rt.InstallProgram(src)
}

// RegisterCallback asks to be notified of every future non-duplicate
// insert into tblName, on the router goroutine.
func (c *Client) RegisterCallback(tblName string, cb catalog.Callback, data interface{}) {
	c.rt.EnqueueCallback(tblName, cb, data)
}

// DumpTable returns a newline-separated text dump of every tuple currently
// in tblName.
func (c *Client) DumpTable(tblName string) (string, error) {
	return c.rt.DumpTable(tblName)
}

// Metrics exposes the Client's Prometheus registry, e.g. for mounting
// promhttp.HandlerFor in a cmd/ entrypoint.
func (c *Client) Metrics() *prometheus.Registry { return c.reg }

// Catalog exposes the live table registry, mainly for tests and debug
// tooling; production code should prefer InstallFile/DumpTable.
func (c *Client) Catalog() *catalog.Catalog { return c.cat }

// LocalAddr is the "tcp:host:port" location spec this Client advertises,
// reflecting the actual bound port once Start has run.
func (c *Client) LocalAddr() string { return c.tr.LocalAddr() }

// Terminate asks the router to shut down after draining whatever is
// already queued, waits for the router goroutine to exit, then closes the
// network listener, the catalog's tables and the SQLite handle. Matches
// c4_destroy's ordering: let the current fixpoint settle, then tear down
// the network and storage.
func (c *Client) Terminate() error {
	c.rt.EnqueueShutdown()
	<-c.doneCh
	close(c.samplerStop)

	var firstErr error
	if err := c.tr.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.cat.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
