package net

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	body := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	require.NoError(t, WriteFrame(w, "ping", body))

	name, gotBody, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", name)
	assert.Equal(t, body, gotBody)
}

func TestWriteFrameByteLayout(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	require.NoError(t, WriteFrame(w, "ab", []byte{0xAA, 0xBB}))

	want := []byte{
		0x00, 0x02, // name length, big-endian uint16
		'a', 'b',
		0x00, 0x00, 0x00, 0x02, // body length, big-endian uint32
		0xAA, 0xBB,
	}
	assert.Equal(t, want, buf.Bytes())
}

func TestReadFrameTruncatedReturnsError(t *testing.T) {
	_, _, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x05, 'a', 'b'}))
	assert.Error(t, err)
}

func TestParseLocSpec(t *testing.T) {
	host, port, err := ParseLocSpec("tcp:localhost:7032")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)
	assert.Equal(t, "7032", port)

	_, _, err = ParseLocSpec("udp:localhost:7032")
	assert.Error(t, err)

	_, _, err = ParseLocSpec("tcp:noport")
	assert.Error(t, err)
}

func TestParseLocSpecSplitsOnLastColon(t *testing.T) {
	host, port, err := ParseLocSpec("tcp:::1:9000")
	require.NoError(t, err)
	assert.Equal(t, "::1", host)
	assert.Equal(t, "9000", port)
}
