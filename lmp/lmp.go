// Package lmp implements the local (same-core) message-passing transport:
// a pair of kernel endpoints carrying at most nine words and one
// capability per message, plus the single-threaded cooperative server
// dispatch loop built on top of it. A Go channel stands in for the
// kernel endpoint pair. A receive may fail spuriously and is simply
// re-armed rather than treated as an error.
package lmp

import (
	"context"
	"sync/atomic"

	"aos/capability"
	"aos/defs"
)

// MaxWords is the message word budget.
const MaxWords = 9

// ShortBufWords is how many of the 9 words carry inline string bytes
// under the ShortBuf fragment: word 0 is the request kind, word 1 the
// byte length, leaving 7 words (56 bytes) for payload.
const ShortBufWords = 7

// ShortBufBytes is the largest string that travels inline.
const ShortBufBytes = ShortBufWords * 8

// Message is one LMP message: up to MaxWords machine words plus one
// capability.
type Message struct {
	Words [MaxWords]uint64
	Cap   capability.Cap
}

// Kind returns the request-kind tag carried in word 0.
func (m Message) Kind() defs.RequestKind {
	return defs.RequestKind(m.Words[0])
}

func reply(kind defs.RequestKind, status defs.Err_t, rest ...uint64) Message {
	var m Message
	m.Words[0] = uint64(kind)
	m.Words[1] = uint64(status)
	for i, w := range rest {
		if 2+i >= MaxWords {
			break
		}
		m.Words[2+i] = w
	}
	return m
}

// Channel is the pair of kernel endpoints connecting one client and one
// server on the same core, modeled as two directional Go channels.
type Channel struct {
	toServer chan Message
	toClient chan Message

	// transientOnce counts how many times the server's next receive
	// attempt should report nothing arrived and simply retry, modeling
	// spurious receive failure followed by re-arming.
	transientOnce int32
}

// NewChannel creates a channel with the given per-direction buffering.
func NewChannel(buf int) *Channel {
	return &Channel{
		toServer: make(chan Message, buf),
		toClient: make(chan Message, buf),
	}
}

// InjectTransientFailures arranges for the server's next n receive
// attempts to find nothing and retry, without losing any message already
// in flight. Test-only knob, mirroring capability.Mock.ForceErrAfter.
func (c *Channel) InjectTransientFailures(n int) {
	atomic.StoreInt32(&c.transientOnce, int32(n))
}

func (c *Channel) takeTransient() bool {
	for {
		n := atomic.LoadInt32(&c.transientOnce)
		if n <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&c.transientOnce, n, n-1) {
			return true
		}
	}
}

// Client is the calling side of a Channel: send a request, block for the
// matching reply.
type Client struct {
	ch *Channel
}

// NewClient wraps ch for client-side use.
func NewClient(ch *Channel) *Client {
	return &Client{ch: ch}
}

// Call sends msg and blocks for the server's reply.
func (c *Client) Call(msg Message) Message {
	c.ch.toServer <- msg
	return <-c.ch.toClient
}

// Register sends the Register protocol fragment: the client's endpoint
// capability becomes the server's reply channel. Here, where
// the channel itself already fixes the reply route, Register is used as
// a handshake the server can refuse.
func (c *Client) Register(ep capability.Cap) defs.Err_t {
	var m Message
	m.Words[0] = uint64(defs.Register)
	m.Cap = ep
	return defs.Err_t(c.Call(m).Words[1])
}

// MemoryAlloc sends the MemoryAlloc protocol fragment.
func (c *Client) MemoryAlloc(bytes, align uint64) (defs.Err_t, capability.Cap) {
	var m Message
	m.Words[0] = uint64(defs.MemoryAlloc)
	m.Words[1] = bytes
	m.Words[2] = align
	r := c.Call(m)
	return defs.Err_t(r.Words[1]), r.Cap
}

// MemoryFree sends the MemoryFree protocol fragment.
func (c *Client) MemoryFree(bytes uint64, ramCap capability.Cap) defs.Err_t {
	var m Message
	m.Words[0] = uint64(defs.MemoryFree)
	m.Words[1] = bytes
	m.Cap = ramCap
	return defs.Err_t(c.Call(m).Words[1])
}

// Spawn sends the Spawn protocol fragment, packing name across the
// argument words. It fails with
// defs.ENAMETOOLONG locally, without a round trip, if name does not fit.
func (c *Client) Spawn(core defs.CoreID, name string) (defs.Err_t, int) {
	msg, err := EncodeSpawn(core, name)
	if err != 0 {
		return err, 0
	}
	r := c.Call(msg)
	return defs.Err_t(r.Words[1]), int(r.Words[2])
}

// TerminalPutChar sends one character for synchronous output.
func (c *Client) TerminalPutChar(ch byte) defs.Err_t {
	var m Message
	m.Words[0] = uint64(defs.TerminalPutChar)
	m.Words[1] = uint64(ch)
	return defs.Err_t(c.Call(m).Words[1])
}

// TerminalGetChar requests one character of synchronous input.
func (c *Client) TerminalGetChar() (byte, defs.Err_t) {
	var m Message
	m.Words[0] = uint64(defs.TerminalGetChar)
	r := c.Call(m)
	return byte(r.Words[2]), defs.Err_t(r.Words[1])
}

// Handler answers one request and produces its reply. Registered per
// defs.RequestKind on a Server.
type Handler func(Message) Message

// Server is the serving side of a Channel: a dispatch table keyed by
// request kind, run by Serve's single-threaded cooperative loop.
type Server struct {
	ch       *Channel
	handlers map[defs.RequestKind]Handler
}

// NewServer wraps ch for server-side use with an empty dispatch table.
func NewServer(ch *Channel) *Server {
	return &Server{ch: ch, handlers: make(map[defs.RequestKind]Handler)}
}

// Register installs h as the handler for kind.
func (s *Server) Register(kind defs.RequestKind, h Handler) {
	s.handlers[kind] = h
}

// Serve runs the dispatch loop: receive, dispatch on word 0, reply,
// re-arm, until ctx is cancelled. Requests for an
// unregistered kind reply with defs.EINVAL rather than blocking the
// loop.
func (s *Server) Serve(ctx context.Context) {
	for {
		if s.ch.takeTransient() {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case msg := <-s.ch.toServer:
			kind := msg.Kind()
			h, ok := s.handlers[kind]
			if !ok {
				s.ch.toClient <- reply(kind, defs.EINVAL)
				continue
			}
			s.ch.toClient <- h(msg)
		}
	}
}

// Terminal is the minimal serial/terminal interface the TerminalGetChar
// and TerminalPutChar protocol fragments are served against.
type Terminal interface {
	PutChar(ch byte) error
	GetChar() (byte, error)
}

// RegisterTerminal installs the TerminalPutChar and TerminalGetChar
// handlers on s, serving both fragments synchronously against term.
func RegisterTerminal(s *Server, term Terminal) {
	s.Register(defs.TerminalPutChar, func(m Message) Message {
		if err := term.PutChar(byte(m.Words[1])); err != nil {
			return reply(defs.TerminalPutChar, defs.EKERNEL)
		}
		return reply(defs.TerminalPutChar, 0)
	})
	s.Register(defs.TerminalGetChar, func(m Message) Message {
		ch, err := term.GetChar()
		if err != nil {
			return reply(defs.TerminalGetChar, defs.EKERNEL)
		}
		return reply(defs.TerminalGetChar, 0, uint64(ch))
	})
}

// EncodeSpawn builds the Spawn request message: word 1 is the core id,
// word 2 is the name length, words 3..8 carry the packed name bytes.
func EncodeSpawn(core defs.CoreID, name string) (Message, defs.Err_t) {
	if len(name) > ShortBufBytes-8 { // leave room for the length word
		return Message{}, defs.ENAMETOOLONG
	}
	packed, err := packSpawnNameAt(name)
	if err != 0 {
		return Message{}, err
	}
	var m Message
	m.Words[0] = uint64(defs.Spawn)
	m.Words[1] = uint64(core)
	m.Words[2] = uint64(len(name))
	copy(m.Words[3:], packed[:])
	return m, 0
}

// packSpawnNameAt packs name into 6 words (words 3..8), one word fewer
// than the ShortBuf payload since EncodeSpawn spends word 2 on the length.
func packSpawnNameAt(name string) ([ShortBufWords - 1]uint64, defs.Err_t) {
	var words [ShortBufWords - 1]uint64
	b := []byte(name)
	budget := len(words) * 8
	if len(b) > budget {
		return words, defs.ENAMETOOLONG
	}
	var buf [ShortBufWords*8 - 8]byte
	copy(buf[:], b)
	for i := range words {
		var w uint64
		for j := 0; j < 8; j++ {
			w |= uint64(buf[i*8+j]) << (8 * uint(j))
		}
		words[i] = w
	}
	return words, 0
}

// DecodeSpawn recovers the core id and process name from a Spawn
// request message built by EncodeSpawn.
func DecodeSpawn(m Message) (defs.CoreID, string) {
	length := int(m.Words[2])
	var packed [ShortBufWords - 1]uint64
	copy(packed[:], m.Words[3:])
	var buf [ShortBufWords*8 - 8]byte
	for i, w := range packed {
		for j := 0; j < 8; j++ {
			buf[i*8+j] = byte(w >> (8 * uint(j)))
		}
	}
	if length > len(buf) {
		length = len(buf)
	}
	return defs.CoreID(m.Words[1]), string(buf[:length])
}

// EncodeString builds a message carrying s, automatically choosing
// between the inline ShortBuf fragment and a frame-capability transfer
// depending on length. newFrame is
// called only when s exceeds ShortBufBytes.
func EncodeString(s string, newFrame func(size int) capability.Frame) Message {
	if len(s) <= ShortBufBytes {
		var m Message
		m.Words[0] = uint64(defs.ShortBuf)
		m.Words[1] = uint64(len(s))
		var buf [ShortBufBytes]byte
		copy(buf[:], s)
		for i := 0; i < ShortBufWords; i++ {
			var w uint64
			for j := 0; j < 8; j++ {
				w |= uint64(buf[i*8+j]) << (8 * uint(j))
			}
			m.Words[2+i] = w
		}
		return m
	}
	frame := newFrame(len(s))
	copy(frame.Bytes, s)
	var m Message
	m.Words[0] = uint64(defs.FrameSend)
	m.Words[1] = uint64(len(s))
	m.Cap = frame.Cap
	return m
}

// DecodeString recovers the string carried by a message built by
// EncodeString. resolveFrame is consulted only for FrameSend messages.
func DecodeString(m Message, resolveFrame func(capability.Cap) []byte) string {
	if m.Kind() == defs.ShortBuf {
		n := int(m.Words[1])
		var buf [ShortBufBytes]byte
		for i := 0; i < ShortBufWords; i++ {
			w := m.Words[2+i]
			for j := 0; j < 8; j++ {
				buf[i*8+j] = byte(w >> (8 * uint(j)))
			}
		}
		if n > len(buf) {
			n = len(buf)
		}
		return string(buf[:n])
	}
	bytes := resolveFrame(m.Cap)
	n := int(m.Words[1])
	if n > len(bytes) {
		n = len(bytes)
	}
	return string(bytes[:n])
}
