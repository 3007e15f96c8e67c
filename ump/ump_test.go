package ump

import (
	"bytes"
	"testing"

	"aos/defs"
)

func TestSendOneRecvOneRoundTrip(t *testing.T) {
	ch := NewChannel(4)
	a := &Endpoint{ch: ch, txSel: 0}
	b := &Endpoint{ch: ch, txSel: 1}

	a.SendOne(uint32(defs.Echo), []byte("hi"), true)
	mt, payload, last, err := b.RecvOne()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if mt != uint32(defs.Echo) || !last || string(payload) != "hi" {
		t.Fatalf("unexpected receive: mt=%d last=%v payload=%q", mt, last, payload)
	}
}

func TestRecvOneNoMessage(t *testing.T) {
	ch := NewChannel(4)
	b := &Endpoint{ch: ch, txSel: 1}
	if _, _, _, err := b.RecvOne(); err != ErrNoMessage {
		t.Fatalf("expected ErrNoMessage, got %v", err)
	}
}

// TestScenarioFragmentedRoundTrip sends a 96-byte payload with
// msg_type=Spawn, fragmented across ceil(96/48)=2 slots, reassembled
// with the same msg_type on every fragment.
func TestScenarioFragmentedRoundTrip(t *testing.T) {
	ch := NewChannel(8)
	a := &Endpoint{ch: ch, txSel: 0}
	b := &Endpoint{ch: ch, txSel: 1}

	payload := bytes.Repeat([]byte{0xAB}, 96)
	done := make(chan struct{})
	go func() {
		a.Send(uint32(defs.Spawn), payload)
		close(done)
	}()

	mt, got, err := b.BlockingRecv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	<-done
	if mt != uint32(defs.Spawn) {
		t.Fatalf("expected msg_type Spawn on every fragment, got %d", mt)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestSendRecvEmptyPayload(t *testing.T) {
	ch := NewChannel(2)
	a := &Endpoint{ch: ch, txSel: 0}
	b := &Endpoint{ch: ch, txSel: 1}

	a.Send(uint32(defs.Echo), nil)
	mt, got, err := b.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if mt != uint32(defs.Echo) || len(got) != 0 {
		t.Fatalf("unexpected result: mt=%d got=%v", mt, got)
	}
}

func TestAckAdvancesAfterSlotReuse(t *testing.T) {
	ch := NewChannel(2)
	a := &Endpoint{ch: ch, txSel: 0}
	b := &Endpoint{ch: ch, txSel: 1}

	// fill one full lap, drain it, then reuse the first slot: only the
	// reuse can prove consumption, so ack advances exactly once.
	a.SendOne(uint32(defs.Echo), []byte("1"), true)
	a.SendOne(uint32(defs.Echo), []byte("2"), true)
	for i := 0; i < 2; i++ {
		if _, _, _, err := b.RecvOne(); err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
	}
	a.SendOne(uint32(defs.Echo), []byte("3"), true)
	if a.Acked() != 1 {
		t.Fatalf("expected 1 acked slot after reuse, got %d", a.Acked())
	}
}

func TestBindAssignsComplementarySelectors(t *testing.T) {
	ch := NewChannel(4)
	done := make(chan *Endpoint)
	go func() {
		done <- Bind(ch, false)
	}()
	initiator := Bind(ch, true)
	responder := <-done

	if initiator.txSel == responder.txSel {
		t.Fatalf("expected complementary selectors, both got %d", initiator.txSel)
	}

	initiator.SendOne(uint32(defs.Echo), []byte("ok"), true)
	_, payload, _, err := responder.RecvOne()
	if err != nil {
		t.Fatalf("post-bind recv: %v", err)
	}
	if string(payload) != "ok" {
		t.Fatalf("post-bind message mismatch: %q", payload)
	}
}
