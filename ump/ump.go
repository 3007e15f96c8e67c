// Package ump implements user-level message passing: a lock-free,
// cache-line-granular shared-memory ring between two cores. A slot's
// valid flag is the sole cross-core synchronization bit; the payload is
// published by the release store that sets it and consumed under the
// acquire load that tests it. Slot padding uses
// golang.org/x/sys/cpu.CacheLinePad so adjacent slots never share a
// cache line.
package ump

import (
	"errors"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// SlotPayloadBytes is how many payload bytes one ring slot carries.
const SlotPayloadBytes = 48

// ErrNoMessage is the non-blocking "nothing arrived yet" condition: a
// polling condition, not an error in the defs.Err_t sense.
var ErrNoMessage = errors.New("ump: no message")

// errMsgTypeMismatch is raised as a panic (an assertion failure, not a
// recoverable error) when a multi-fragment receive observes a change of
// msg_type mid-message.
type errMsgTypeMismatch struct{ want, got uint32 }

func (e errMsgTypeMismatch) Error() string {
	return "ump: msg_type changed across fragments"
}

// Slot is one cache-line-sized ring entry: a payload area, a message-type
// tag, a last-fragment flag, and the valid flag that is the sole
// cross-core synchronization primitive.
type Slot struct {
	valid   uint32
	msgType uint32
	last    uint32
	length  uint32
	payload [SlotPayloadBytes]byte
	_       cpu.CacheLinePad
}

// Ring is one direction's worth of slots, with independent writer (tx)
// and reader (rx) cursors. ack counts slots the sender has observed the
// receiver consume, which it learns only on reusing a slot; once the ring
// has wrapped, it trails tx by the ring length.
type Ring struct {
	slots []Slot
	tx    uint32
	rx    uint32
	ack   uint32
}

func newRing(n int) *Ring {
	return &Ring{slots: make([]Slot, n)}
}

func (r *Ring) sendOne(msgType uint32, payload []byte, last bool) {
	if len(payload) > SlotPayloadBytes {
		panic("ump: payload exceeds one slot")
	}
	idx := r.tx % uint32(len(r.slots))
	slot := &r.slots[idx]

	for atomic.LoadUint32(&slot.valid) != 0 {
		runtime.Gosched()
	}
	if r.tx >= uint32(len(r.slots)) {
		// the slot has been through a full lap: its invalidity proves the
		// receiver consumed the previous message in it.
		r.ack++
	}
	copy(slot.payload[:], payload)
	slot.msgType = msgType
	slot.length = uint32(len(payload))
	if last {
		slot.last = 1
	} else {
		slot.last = 0
	}
	atomic.StoreUint32(&slot.valid, 1) // release: publishes payload/msgType/last/length
	r.tx++
}

func (r *Ring) recvOne() (msgType uint32, payload []byte, last bool, err error) {
	idx := r.rx % uint32(len(r.slots))
	slot := &r.slots[idx]

	if atomic.LoadUint32(&slot.valid) == 0 { // acquire
		return 0, nil, false, ErrNoMessage
	}
	out := make([]byte, slot.length)
	copy(out, slot.payload[:slot.length])
	msgType = slot.msgType
	last = slot.last != 0
	atomic.StoreUint32(&slot.valid, 0) // release: frees the slot for reuse
	r.rx++
	return msgType, out, last, nil
}

// Channel is the shared-memory region divided into two equal rings. One
// endpoint transmits on ring A and receives on ring B; the other holds
// the complementary assignment.
type Channel struct {
	ringA *Ring
	ringB *Ring
}

// NewChannel allocates a channel whose rings each hold slotCount slots.
func NewChannel(slotCount int) *Channel {
	return &Channel{ringA: newRing(slotCount), ringB: newRing(slotCount)}
}

// Endpoint is one side of a bound Channel.
type Endpoint struct {
	ch    *Channel
	txSel int // 0: tx=ringA, rx=ringB; 1: tx=ringB, rx=ringA
}

func (e *Endpoint) txRing() *Ring {
	if e.txSel == 0 {
		return e.ch.ringA
	}
	return e.ch.ringB
}

func (e *Endpoint) rxRing() *Ring {
	if e.txSel == 0 {
		return e.ch.ringB
	}
	return e.ch.ringA
}

// bindMsgType is the reserved msg_type for the Bind handshake control
// message, distinguishable from ordinary traffic by callers that care.
const bindMsgType uint32 = 0xFFFFFFFF

// Bind establishes which ring each side transmits on. The initiator picks selector 0 and announces
// it; the responder takes the complementary selector and waits for the
// announcement before returning, so neither side sends ordinary traffic
// before the handshake completes.
func Bind(ch *Channel, initiator bool) *Endpoint {
	if initiator {
		ep := &Endpoint{ch: ch, txSel: 0}
		ep.txRing().sendOne(bindMsgType, nil, true)
		return ep
	}
	ep := &Endpoint{ch: ch, txSel: 1}
	ep.blockingRecvOneRaw()
	return ep
}

func (e *Endpoint) blockingRecvOneRaw() {
	for {
		_, _, _, err := e.rxRing().recvOne()
		if err == nil {
			return
		}
		runtime.Gosched()
	}
}

// Acked reports how many of this endpoint's sent slots the remote side
// has provably consumed.
func (e *Endpoint) Acked() uint32 {
	return e.txRing().ack
}

// SendOne sends one slot's worth of payload, spinning until the next
// slot is free.
func (e *Endpoint) SendOne(msgType uint32, payload []byte, last bool) {
	e.txRing().sendOne(msgType, payload, last)
}

// RecvOne attempts to receive one slot, returning ErrNoMessage
// immediately if nothing has arrived.
func (e *Endpoint) RecvOne() (msgType uint32, payload []byte, last bool, err error) {
	return e.rxRing().recvOne()
}

// Send chunks buf into slot-sized fragments, marking the final fragment
// with last=true and propagating msgType on every chunk.
func (e *Endpoint) Send(msgType uint32, buf []byte) {
	if len(buf) == 0 {
		e.SendOne(msgType, nil, true)
		return
	}
	for offset := 0; offset < len(buf); offset += SlotPayloadBytes {
		end := offset + SlotPayloadBytes
		if end > len(buf) {
			end = len(buf)
		}
		e.SendOne(msgType, buf[offset:end], end == len(buf))
	}
}

// Recv reassembles one multi-fragment message. The first fragment is
// fetched non-blocking (ErrNoMessage propagates if nothing has arrived
// yet); subsequent fragments spin through ErrNoMessage since the sender
// may still be producing them. Every fragment must carry the
// same msg_type; a mismatch panics.
func (e *Endpoint) Recv() (msgType uint32, buf []byte, err error) {
	mt, payload, last, err := e.RecvOne()
	if err != nil {
		return 0, nil, err
	}
	msgType = mt
	buf = append(buf, payload...)
	for !last {
		var p []byte
		var mt2 uint32
		for {
			var e2 error
			mt2, p, last, e2 = e.RecvOne()
			if e2 == nil {
				break
			}
			if e2 != ErrNoMessage {
				return 0, nil, e2
			}
			runtime.Gosched()
		}
		if mt2 != msgType {
			panic(errMsgTypeMismatch{want: msgType, got: mt2})
		}
		buf = append(buf, p...)
	}
	return msgType, buf, nil
}

// BlockingRecv busy-loops Recv until a complete message arrives.
func (e *Endpoint) BlockingRecv() (msgType uint32, buf []byte, err error) {
	for {
		msgType, buf, err = e.Recv()
		if err == nil {
			return msgType, buf, nil
		}
		if err != ErrNoMessage {
			return 0, nil, err
		}
		runtime.Gosched()
	}
}
