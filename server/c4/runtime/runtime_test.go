package runtime_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloom-lang/c4/server/c4/catalog"
	"github.com/bloom-lang/c4/server/c4/runtime"
	"github.com/bloom-lang/c4/server/c4/tuple"
	"github.com/bloom-lang/c4/server/conf"
)

func testConfig(t *testing.T) *conf.Config {
	t.Helper()
	cfg := conf.Default()
	cfg.HomeDir = t.TempDir()
	cfg.BindPort = 0
	return cfg
}

func TestClientLifecycleInstallAndDump(t *testing.T) {
	cfg := testConfig(t)
	c, err := runtime.New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Terminate()

	assert.NotEmpty(t, c.LocalAddr())
	assert.Contains(t, c.LocalAddr(), "tcp:")

	require.NoError(t, c.InstallStr(`
define t(int8) keys(0);
t(1);
t(2);
`))

	dump, err := c.DumpTable("t")
	require.NoError(t, err)
	assert.True(t, strings.Contains(dump, "1"))
	assert.True(t, strings.Contains(dump, "2"))

	_, ok := c.Catalog().Lookup("t")
	assert.True(t, ok)
}

func TestClientRegisterCallbackFiresOnInsert(t *testing.T) {
	cfg := testConfig(t)
	c, err := runtime.New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Terminate()

	seen := make(chan int64, 4)
	c.RegisterCallback("t", func(t *tuple.Tuple, def *catalog.TableDef, data interface{}) {
		seen <- t.Get(0).Int8()
	}, nil)

	require.NoError(t, c.InstallStr(`
define t(int8) keys(0);
t(7);
t(8);
`))

	got := map[int64]bool{}
	for i := 0; i < 2; i++ {
		select {
		case v := <-seen:
			got[v] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for callback")
		}
	}
	assert.True(t, got[7])
	assert.True(t, got[8])
}

func TestClientTerminateWithNoInstallSucceeds(t *testing.T) {
	cfg := testConfig(t)
	c, err := runtime.New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	assert.NoError(t, c.Terminate())
}

func TestClientInstallFileMissingPathFails(t *testing.T) {
	cfg := testConfig(t)
	c, err := runtime.New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Terminate()

	err = c.InstallFile("/no/such/program.dedalus")
	assert.Error(t, err)
}
