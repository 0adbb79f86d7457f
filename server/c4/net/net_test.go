package net_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloom-lang/c4/server/c4/catalog"
	"github.com/bloom-lang/c4/server/c4/datum"
	c4net "github.com/bloom-lang/c4/server/c4/net"
	"github.com/bloom-lang/c4/server/c4/schema"
	"github.com/bloom-lang/c4/server/c4/storage"
	"github.com/bloom-lang/c4/server/c4/tuple"
)

type chanSink struct {
	ch chan *tuple.Tuple
}

func newChanSink() *chanSink { return &chanSink{ch: make(chan *tuple.Tuple, 4)} }

func (s *chanSink) EnqueueTuple(t *tuple.Tuple, def *catalog.TableDef, isDelete bool) {
	t.Pin()
	s.ch <- t
}

func newCatalogWith(t *testing.T, sch *schema.Schema) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	_, err := cat.Define("msg", catalog.Memory, sch, []int{1}, storage.NewMemory())
	require.NoError(t, err)
	return cat
}

func TestTransportSendReceivesOverLoopback(t *testing.T) {
	sch := schema.New([]datum.Type{datum.String, datum.Int8}, 0)

	sinkA := newChanSink()
	catA := newCatalogWith(t, sch)
	trA := c4net.New("tcp:127.0.0.1:0", sinkA, catA, nil)
	require.NoError(t, trA.Listen("127.0.0.1:0"))
	defer trA.Close()

	sinkB := newChanSink()
	catB := newCatalogWith(t, sch)
	trB := c4net.New("tcp:127.0.0.1:0", sinkB, catB, nil)
	require.NoError(t, trB.Listen("127.0.0.1:0"))
	defer trB.Close()

	def, ok := catA.Lookup("msg")
	require.True(t, ok)

	out := tuple.MakeDefault(sch, []datum.Datum{datum.FromString(trB.LocalAddr()), datum.FromInt8(42)})
	defer out.Unpin()

	require.NoError(t, trA.Send(out, def))

	select {
	case got := <-sinkB.ch:
		assert.Equal(t, int64(42), got.Get(1).Int8())
		got.Unpin()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tuple to arrive over loopback")
	}
}

func TestTransportIsLocalMatchesOwnAddress(t *testing.T) {
	sch := schema.New([]datum.Type{datum.String, datum.Int8}, 0)
	sink := newChanSink()
	cat := newCatalogWith(t, sch)
	tr := c4net.New("tcp:127.0.0.1:0", sink, cat, nil)
	require.NoError(t, tr.Listen("127.0.0.1:0"))
	defer tr.Close()

	assert.True(t, tr.IsLocal(tr.LocalAddr()))
	assert.False(t, tr.IsLocal("tcp:127.0.0.1:9"))
}

func TestTransportSendToUndefinedPeerFailsToDial(t *testing.T) {
	sch := schema.New([]datum.Type{datum.String, datum.Int8}, 0)
	sink := newChanSink()
	cat := newCatalogWith(t, sch)
	tr := c4net.New("tcp:127.0.0.1:0", sink, cat, nil)
	require.NoError(t, tr.Listen("127.0.0.1:0"))
	defer tr.Close()

	def, _ := cat.Lookup("msg")
	out := tuple.MakeDefault(sch, []datum.Datum{datum.FromString("tcp:127.0.0.1:1"), datum.FromInt8(1)})
	defer out.Unpin()

	err := tr.Send(out, def)
	assert.Error(t, err)
}
