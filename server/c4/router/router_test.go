package router_test

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloom-lang/c4/server/c4/catalog"
	"github.com/bloom-lang/c4/server/c4/installer"
	"github.com/bloom-lang/c4/server/c4/metrics"
	"github.com/bloom-lang/c4/server/c4/router"
	"github.com/bloom-lang/c4/server/c4/tuple"

	"github.com/prometheus/client_golang/prometheus"
)

// newTestRouter builds a Router with a real Installer (no sqlite handle, so
// every program here must only define memory-backed tables) and starts its
// Run loop, returning the Router and a func to shut it down cleanly.
func newTestRouter(t *testing.T) (*router.Router, func()) {
	t.Helper()
	cat := catalog.New()
	reg := metrics.New(prometheus.NewRegistry())
	ins := installer.New(nil)
	rt := router.New(cat, nil, ins, reg, router.Config{})
	done := make(chan struct{})
	go func() {
		rt.Run()
		close(done)
	}()
	return rt, func() {
		rt.EnqueueShutdown()
		<-done
	}
}

func dumpLines(t *testing.T, rt *router.Router, table string) []string {
	t.Helper()
	text, err := rt.DumpTable(table)
	require.NoError(t, err)
	var lines []string
	for _, l := range strings.Split(strings.TrimSpace(text), "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	sort.Strings(lines)
	return lines
}

func TestLinearRecursionReachesFixpoint(t *testing.T) {
	rt, stop := newTestRouter(t)
	defer stop()

	const prog = `
define t(int8) keys(0);
t(A + 1) :- t(A), A < 5;
t(0);
`
	require.NoError(t, rt.InstallProgram(prog))

	lines := dumpLines(t, rt, "t")
	assert.Len(t, lines, 6) // 0,1,2,3,4,5
}

func TestJoinAcrossTwoTables(t *testing.T) {
	rt, stop := newTestRouter(t)
	defer stop()

	const prog = `
define t(int8) keys(0);
define s(int8) keys(0);
s(0);
t(A + 1) :- t(A), s(B), A >= B, A < 5;
t(0);
`
	require.NoError(t, rt.InstallProgram(prog))

	lines := dumpLines(t, rt, "t")
	assert.Len(t, lines, 6)
}

func TestCountAggregate(t *testing.T) {
	rt, stop := newTestRouter(t)
	defer stop()

	const prog = `
define b(int8, int8) keys(0);
define c(int8, int8) keys(0);
c(X, count(Y)) :- b(X, Y);
b(7, 1);
b(7, 2);
b(7, 3);
b(9, 1);
`
	require.NoError(t, rt.InstallProgram(prog))

	lines := dumpLines(t, rt, "c")
	require.Len(t, lines, 2)
	assert.Contains(t, strings.Join(lines, "\n"), "7")
}

// TestNegationExcludesMatchingRows exercises the notin join: every row of
// a should appear in r unless a matching row exists in excl.
func TestNegationExcludesMatchingRows(t *testing.T) {
	rt, stop := newTestRouter(t)
	defer stop()

	const prog = `
define a(int8) keys(0);
define excl(int8) keys(0);
define r(int8) keys(0);
r(X) :- a(X), notin excl(X);
a(1);
a(2);
a(3);
excl(2);
`
	require.NoError(t, rt.InstallProgram(prog))

	lines := dumpLines(t, rt, "r")
	assert.Len(t, lines, 2)
	joined := strings.Join(lines, " ")
	assert.NotContains(t, joined, "2")
}

func TestUndefinedTableInstallFails(t *testing.T) {
	rt, stop := newTestRouter(t)
	defer stop()

	err := rt.InstallProgram(`r(X) :- nosuchtable(X);`)
	assert.Error(t, err)
}

func TestCallbackFiresOncePerInsertedRow(t *testing.T) {
	rt, stop := newTestRouter(t)
	defer stop()

	require.NoError(t, rt.InstallProgram(`define t(int8) keys(0);`))

	var mu sync.Mutex
	var seen []int64
	fired := make(chan struct{}, 4)
	rt.EnqueueCallback("t", func(tup *tuple.Tuple, def *catalog.TableDef, data interface{}) {
		mu.Lock()
		seen = append(seen, tup.Get(0).Int8())
		mu.Unlock()
		fired <- struct{}{}
	}, nil)

	require.NoError(t, rt.InstallProgram(`t(1); t(2); t(1);`))

	for i := 0; i < 2; i++ {
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatal("callback did not fire in time")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []int64{1, 2}, seen)
}
