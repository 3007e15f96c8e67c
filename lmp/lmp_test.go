package lmp

import (
	"context"
	"strings"
	"testing"
	"time"

	"aos/capability"
	"aos/defs"
)

func TestRegisterRoundTrip(t *testing.T) {
	ch := NewChannel(1)
	srv := NewServer(ch)
	var registered capability.Cap
	srv.Register(defs.Register, func(m Message) Message {
		registered = m.Cap
		return reply(defs.Register, 0)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	cli := NewClient(ch)
	if err := cli.Register(capability.Cap(42)); err != 0 {
		t.Fatalf("register: %v", err)
	}
	if registered != 42 {
		t.Fatalf("server did not see the client's endpoint capability")
	}
}

// TestScenarioMemoryAllocAccepted exercises the accepted MemoryAlloc
// round trip end to end over the channel.
func TestScenarioMemoryAllocAccepted(t *testing.T) {
	ch := NewChannel(1)
	srv := NewServer(ch)
	k := capability.NewMock()
	srv.Register(defs.MemoryAlloc, func(m Message) Message {
		bytes, align := m.Words[1], m.Words[2]
		if bytes == 0 || align == 0 || bytes > defs.MaxAllocBytes {
			return reply(defs.MemoryAlloc, defs.EINVAL)
		}
		frame := k.NewFrame(int(bytes))
		r := reply(defs.MemoryAlloc, 0)
		r.Cap = frame.Cap
		return r
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	cli := NewClient(ch)
	status, ramCap := cli.MemoryAlloc(4096, 4096)
	if status != 0 {
		t.Fatalf("expected success, got %v", status)
	}
	if ramCap == capability.NullCap {
		t.Fatalf("expected a non-null RAM capability")
	}
}

// TestScenarioMemoryAllocRejected exercises the rejection path: a
// zero-byte request replies invalid-size with a null capability.
func TestScenarioMemoryAllocRejected(t *testing.T) {
	ch := NewChannel(1)
	srv := NewServer(ch)
	srv.Register(defs.MemoryAlloc, func(m Message) Message {
		bytes, align := m.Words[1], m.Words[2]
		if bytes == 0 || align == 0 || bytes > defs.MaxAllocBytes {
			return reply(defs.MemoryAlloc, defs.EINVAL)
		}
		panic("unreachable: this test only exercises the rejection path")
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	cli := NewClient(ch)
	status, ramCap := cli.MemoryAlloc(0, 4096)
	if status != defs.EINVAL {
		t.Fatalf("expected EINVAL, got %v", status)
	}
	if ramCap != capability.NullCap {
		t.Fatalf("expected NULL_CAP on rejection, got %v", ramCap)
	}
}

func TestUnregisteredKindRepliesEINVAL(t *testing.T) {
	ch := NewChannel(1)
	srv := NewServer(ch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	cli := NewClient(ch)
	r := cli.Call(Message{Words: [MaxWords]uint64{uint64(defs.Echo)}})
	if defs.Err_t(r.Words[1]) != defs.EINVAL {
		t.Fatalf("expected EINVAL for unregistered kind, got %v", r.Words[1])
	}
}

func TestTransientReceiveFailureIsRetried(t *testing.T) {
	ch := NewChannel(1)
	srv := NewServer(ch)
	srv.Register(defs.Echo, func(m Message) Message {
		return reply(defs.Echo, 0, m.Words[1])
	})
	ch.InjectTransientFailures(3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	cli := NewClient(ch)
	r := cli.Call(Message{Words: [MaxWords]uint64{uint64(defs.Echo), 99}})
	if r.Words[2] != 99 {
		t.Fatalf("expected echoed value to survive transient retries, got %d", r.Words[2])
	}
}

func TestStringTransportSelection(t *testing.T) {
	k := capability.NewMock()
	var lastFrame capability.Frame
	newFrame := func(n int) capability.Frame {
		lastFrame = k.NewFrame(n)
		return lastFrame
	}
	resolve := func(c capability.Cap) []byte {
		if c == lastFrame.Cap {
			return lastFrame.Bytes
		}
		return nil
	}

	short := "hello"
	m := EncodeString(short, newFrame)
	if m.Kind() != defs.ShortBuf {
		t.Fatalf("expected ShortBuf for a short string")
	}
	if got := DecodeString(m, resolve); got != short {
		t.Fatalf("round trip mismatch: got %q want %q", got, short)
	}

	long := strings.Repeat("x", ShortBufBytes+1)
	m2 := EncodeString(long, newFrame)
	if m2.Kind() != defs.FrameSend {
		t.Fatalf("expected FrameSend for a long string")
	}
	if got := DecodeString(m2, resolve); got != long {
		t.Fatalf("round trip mismatch for long string: got %d bytes want %d", len(got), len(long))
	}
}

func TestSpawnNameRoundTripAndTooLong(t *testing.T) {
	msg, err := EncodeSpawn(defs.CoreID(1), "shell")
	if err != 0 {
		t.Fatalf("encode: %v", err)
	}
	core, name := DecodeSpawn(msg)
	if core != 1 || name != "shell" {
		t.Fatalf("round trip mismatch: core=%d name=%q", core, name)
	}

	_, err = EncodeSpawn(defs.CoreID(0), strings.Repeat("a", 100))
	if err != defs.ENAMETOOLONG {
		t.Fatalf("expected ENAMETOOLONG, got %v", err)
	}
}

type scriptedTerminal struct {
	out   []byte
	input []byte
}

func (s *scriptedTerminal) PutChar(ch byte) error {
	s.out = append(s.out, ch)
	return nil
}

func (s *scriptedTerminal) GetChar() (byte, error) {
	ch := s.input[0]
	s.input = s.input[1:]
	return ch, nil
}

func TestTerminalFragments(t *testing.T) {
	term := &scriptedTerminal{input: []byte{'y'}}
	ch := NewChannel(1)
	srv := NewServer(ch)
	RegisterTerminal(srv, term)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx)

	cli := NewClient(ch)
	if err := cli.TerminalPutChar('x'); err != 0 {
		t.Fatalf("put char: %v", err)
	}
	if string(term.out) != "x" {
		t.Fatalf("terminal did not receive the character: %q", term.out)
	}
	got, err := cli.TerminalGetChar()
	if err != 0 {
		t.Fatalf("get char: %v", err)
	}
	if got != 'y' {
		t.Fatalf("unexpected character from terminal: %q", got)
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	ch := NewChannel(1)
	srv := NewServer(ch)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Serve did not stop after context cancellation")
	}
}
