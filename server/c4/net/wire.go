// Package net is the TCP transport between Clients: a listener accepting
// inbound peers and a pool of outbound connections keyed by location
// specifier, exchanging tuples framed as described in wire.go. Every
// connection's read/write loop runs on its own goroutine, feeding the
// Client's single router goroutine through router.Router's channel-based
// API — this is the idiomatic-Go replacement for the original's one
// pollset shared by every peer socket.
package net

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"strings"

	"github.com/pingcap/errors"
)

// ParseLocSpec splits a "tcp:host:port" location specifier into its host
// and port parts. The split is on the last colon (mirroring the original's
// rindex-based parse_loc_spec) so IPv6 hosts containing colons still parse
// correctly.
func ParseLocSpec(locSpec string) (host, port string, err error) {
	const prefix = "tcp:"
	if !strings.HasPrefix(locSpec, prefix) {
		return "", "", errors.Errorf("net: location spec %q missing %q prefix", locSpec, prefix)
	}
	rest := locSpec[len(prefix):]
	i := strings.LastIndexByte(rest, ':')
	if i < 0 {
		return "", "", errors.Errorf("net: location spec %q missing host:port", locSpec)
	}
	return rest[:i], rest[i+1:], nil
}

// A frame on the wire is:
//
//	uint16 name_len (big-endian)
//	name_len bytes of table name
//	uint32 body_len (big-endian)
//	body_len bytes of tuple body (tuple.EncodeBinary's output)
//
// matching serialize_tuple/update_recv_state in the original network.c.

// WriteFrame writes one table-name+tuple-body frame to w.
func WriteFrame(w *bufio.Writer, tblName string, body []byte) error {
	if len(tblName) > math.MaxUint16 {
		return errors.Errorf("net: table name %q exceeds wire length limit", tblName)
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(tblName)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Trace(err)
	}
	if _, err := w.WriteString(tblName); err != nil {
		return errors.Trace(err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Trace(err)
	}
	if _, err := w.Write(body); err != nil {
		return errors.Trace(err)
	}
	return w.Flush()
}

// ReadFrame reads one frame from r, blocking until a full frame (or EOF) is
// available. io.EOF is returned verbatim so callers can distinguish a clean
// peer disconnect from a framing error.
func ReadFrame(r io.Reader) (tblName string, body []byte, err error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", nil, err
	}
	nameLen := binary.BigEndian.Uint16(hdr[:])

	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return "", nil, errors.Trace(err)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", nil, errors.Trace(err)
	}
	bodyLen := binary.BigEndian.Uint32(lenBuf[:])

	body = make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", nil, errors.Trace(err)
	}
	return string(nameBuf), body, nil
}
