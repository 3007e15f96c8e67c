// Package spawnserv implements the spawn-server side of the LMP Spawn
// contract: local dispatch, and cross-core forwarding over a
// ump.Channel when the requested core is not the local one.
package spawnserv

import (
	"context"
	"encoding/binary"

	"aos/defs"
	"aos/lmp"
	"aos/ump"
)

// LocalSpawner is the out-of-scope process spawner this server delegates
// to for requests targeting its own core.
type LocalSpawner interface {
	Spawn(name string) (defs.Err_t, int)
}

// Handler answers Spawn requests arriving over LMP. Requests for the
// local core are delegated directly; requests for any other core are
// forwarded over Remote and the reply relayed back.
type Handler struct {
	LocalCore defs.CoreID
	Local     LocalSpawner
	Remote    *ump.Endpoint // nil if this core has no remote link
}

// Spawn implements the lmp.Handler signature for defs.Spawn requests.
func (h *Handler) Spawn(m lmp.Message) lmp.Message {
	core, name := lmp.DecodeSpawn(m)
	if core == h.LocalCore {
		status, pid := h.Local.Spawn(name)
		return spawnReply(status, pid)
	}
	if h.Remote == nil {
		return spawnReply(defs.EKERNEL, 0)
	}
	h.Remote.Send(uint32(defs.Spawn), encodeRequest(core, name))
	_, buf, err := h.Remote.BlockingRecv()
	if err != nil {
		return spawnReply(defs.EKERNEL, 0)
	}
	status, pid := decodeReply(buf)
	return spawnReply(status, pid)
}

// Forwarder runs on the remote core named by cross-core Spawn requests:
// it receives the forwarded request over Endpoint, spawns locally, and
// sends the reply back the same way.
type Forwarder struct {
	Endpoint *ump.Endpoint
	Local    LocalSpawner
}

// Serve runs until ctx is cancelled, forwarding one request at a time.
func (f *Forwarder) Serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msgType, buf, err := f.Endpoint.Recv()
		if err == ump.ErrNoMessage {
			continue
		}
		if err != nil {
			return
		}
		_, name := decodeRequest(buf)
		status, pid := f.Local.Spawn(name)
		f.Endpoint.Send(msgType, encodeReply(status, pid))
	}
}

func spawnReply(status defs.Err_t, pid int) lmp.Message {
	var m lmp.Message
	m.Words[0] = uint64(defs.Spawn)
	m.Words[1] = uint64(status)
	m.Words[2] = uint64(pid)
	return m
}

func encodeRequest(core defs.CoreID, name string) []byte {
	buf := make([]byte, 4+len(name))
	binary.LittleEndian.PutUint32(buf[:4], uint32(core))
	copy(buf[4:], name)
	return buf
}

func decodeRequest(buf []byte) (defs.CoreID, string) {
	if len(buf) < 4 {
		return 0, ""
	}
	core := defs.CoreID(binary.LittleEndian.Uint32(buf[:4]))
	return core, string(buf[4:])
}

func encodeReply(status defs.Err_t, pid int) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(int32(status)))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(int32(pid)))
	return buf
}

func decodeReply(buf []byte) (defs.Err_t, int) {
	if len(buf) < 8 {
		return defs.EKERNEL, 0
	}
	status := defs.Err_t(int32(binary.LittleEndian.Uint32(buf[0:4])))
	pid := int(int32(binary.LittleEndian.Uint32(buf[4:8])))
	return status, pid
}
