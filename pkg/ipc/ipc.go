// Package ipc implements the client acknowledgement half of the boot-stage
// IPC contract (spec.md §6): each of post_fs_data, late_start and
// boot_complete receives a connected socket, writes a single 4-byte
// integer 0 as an ack, and closes before doing any heavy work. The socket
// server that accepts connections and dispatches to these entry points is
// the out-of-scope collaborator (spec.md §1); this package only owns the
// ack write itself.
package ipc

import (
	"encoding/binary"
	"io"
)

// Ack writes the 4-byte little-endian integer 0 to conn and closes it if
// it implements io.Closer. Called first thing in every IPC entry point so
// the caller (init) can proceed immediately while the heavy boot work
// continues on the same goroutine (spec.md §5 "the acknowledgement write
// on the client socket precedes all heavy work").
func Ack(conn io.Writer) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], 0)
	if _, err := conn.Write(buf[:]); err != nil {
		return err
	}
	if closer, ok := conn.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
