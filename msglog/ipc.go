// Package msglog implements the per-shard durable message log: a Unix
// domain socket IPC boundary in front of daily-rotated, append-only log
// files with a retention sweep.
package msglog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/primcluster/mesh/envelope"
)

// reqIDSize is the fixed width of the correlation id prefixing every IPC
// frame in both directions.
const reqIDSize = 8

// ErrShortAck is returned when a peer closes the connection mid-ack.
var ErrShortAck = errors.New("msglog: short ack read")

// writeRequest sends req_id ‖ envelope-bytes on conn.
func writeRequest(w io.Writer, reqID uint64, msg *envelope.Message) error {
	var hdr [reqIDSize]byte
	binary.BigEndian.PutUint64(hdr[:], reqID)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("msglog: write req_id: %w", err)
	}
	if _, err := w.Write(msg.AsSlice()); err != nil {
		return fmt.Errorf("msglog: write envelope: %w", err)
	}
	return nil
}

// readRequest reads one req_id ‖ envelope frame from r. The envelope is
// self-describing: its 32-byte head carries the payload/extension
// lengths needed to know how many more bytes to read.
func readRequest(r io.Reader) (uint64, *envelope.Message, error) {
	var hdr [reqIDSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	reqID := binary.BigEndian.Uint64(hdr[:])

	head := make([]byte, envelope.HeadLength)
	if _, err := io.ReadFull(r, head); err != nil {
		return 0, nil, fmt.Errorf("msglog: read envelope head: %w", err)
	}
	h, err := envelope.PeekHead(head)
	if err != nil {
		return 0, nil, fmt.Errorf("msglog: peek envelope head: %w", err)
	}
	bodyLen := int(h.PayloadLen) + int(h.ExtLength)

	full := make([]byte, envelope.HeadLength+bodyLen)
	copy(full, head)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, full[envelope.HeadLength:]); err != nil {
			return 0, nil, fmt.Errorf("msglog: read envelope body: %w", err)
		}
	}
	msg, err := envelope.FromSlice(full)
	if err != nil {
		return 0, nil, fmt.Errorf("msglog: decode envelope: %w", err)
	}
	return reqID, msg, nil
}

// writeAck sends the bare req_id back as a response frame.
func writeAck(w io.Writer, reqID uint64) error {
	var hdr [reqIDSize]byte
	binary.BigEndian.PutUint64(hdr[:], reqID)
	_, err := w.Write(hdr[:])
	return err
}

// readAck reads a bare req_id response frame.
func readAck(r io.Reader) (uint64, error) {
	var hdr [reqIDSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, ErrShortAck
	}
	return binary.BigEndian.Uint64(hdr[:]), nil
}

// dialUnix connects to the Unix domain socket at path.
func dialUnix(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}
