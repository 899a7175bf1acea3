// Package packet implements the SSH-1 and SSH-2 wire packet framers:
// length/padding framing, optional cipher, optional MAC
// (SSH-2), optional zlib compression, and the typed builder/reader used to
// construct and parse packet payloads.
//
// Every cursor here is a plain int offset into a []byte, never a pointer,
// so reallocation during Builder growth is always safe.
package packet

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// Packet is a decoded message: a type byte plus its payload, with the
// framing header/padding/MAC already stripped.
type Packet struct {
	Type    byte
	Payload []byte
}

// Builder is a single-pass typed packet-payload constructor backed by a
// plain growable buffer, rather than a two-pass size-then-fill strategy.
type Builder struct {
	buf []byte
}

// NewBuilder starts a builder for the given message type.
func NewBuilder(msgType byte) *Builder {
	return &Builder{buf: []byte{msgType}}
}

// NewRawBuilder starts a builder with no leading message-type byte, for
// building hash preimages (e.g. the SSH-2 exchange hash) rather than wire
// packets.
func NewRawBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Byte(v byte) *Builder {
	b.buf = append(b.buf, v)
	return b
}

func (b *Builder) Bool(v bool) *Builder {
	if v {
		return b.Byte(1)
	}
	return b.Byte(0)
}

func (b *Builder) Uint32(v uint32) *Builder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
	return b
}

// String appends a 4-byte-length-prefixed byte string (SSH-2 "string").
func (b *Builder) String(s []byte) *Builder {
	b.Uint32(uint32(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

// Str is a convenience wrapper over String for Go strings.
func (b *Builder) Str(s string) *Builder { return b.String([]byte(s)) }

// NameList appends a comma-separated SSH-2 name-list.
func (b *Builder) NameList(names []string) *Builder {
	joined := joinComma(names)
	return b.Str(joined)
}

func joinComma(names []string) string {
	out := ""
	for i, n := range names {
		if i > 0 {
			out += ","
		}
		out += n
	}
	return out
}

// MpintSSH2 appends n in the SSH-2 mpint encoding: unsigned
// big-endian with a leading zero byte iff the high bit of the first byte
// would otherwise be set.
func (b *Builder) MpintSSH2(n *big.Int) *Builder {
	raw := n.Bytes()
	if len(raw) > 0 && raw[0]&0x80 != 0 {
		raw = append([]byte{0}, raw...)
	}
	return b.String(raw)
}

// MpintSSH1 appends n in the SSH-1 mpint encoding: uint16 bit-count then
// big-endian bytes.
func (b *Builder) MpintSSH1(n *big.Int) *Builder {
	bits := n.BitLen()
	raw := n.Bytes()
	b.buf = append(b.buf, byte(bits>>8), byte(bits))
	b.buf = append(b.buf, raw...)
	return b
}

// StartString reserves a 4-byte length field and returns a token used by
// FinishString to retroactively fill it in once the string's contents have
// been streamed in via subsequent Byte/String/etc. calls, the "savedpos"
// idiom for fields whose length isn't known up front.
func (b *Builder) StartString() int {
	pos := len(b.buf)
	b.Uint32(0)
	return pos
}

// FinishString back-patches the length field reserved by StartString.
func (b *Builder) FinishString(pos int) {
	length := len(b.buf) - pos - 4
	binary.BigEndian.PutUint32(b.buf[pos:pos+4], uint32(length))
}

// Raw appends bytes verbatim with no length prefix.
func (b *Builder) Raw(p []byte) *Builder {
	b.buf = append(b.buf, p...)
	return b
}

// Bytes returns the built payload (the type byte, if NewBuilder was used,
// followed by fields).
func (b *Builder) Bytes() []byte { return b.buf }

// Reader parses a packet payload field by field.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a reader positioned at the start of payload. It skips
// nothing: pass a payload without the type byte (as Packet.Payload is,
// the type being in Packet.Type).
func NewReader(payload []byte) *Reader {
	return &Reader{buf: payload}
}

func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) Byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, fmt.Errorf("packet: truncated byte field")
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) Bool() (bool, error) {
	v, err := r.Byte()
	return v != 0, err
}

func (r *Reader) Uint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("packet: truncated uint32 field")
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) String() ([]byte, error) {
	n, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.buf) {
		return nil, fmt.Errorf("packet: truncated string field: need %d, have %d", n, len(r.buf)-r.pos)
	}
	v := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v, nil
}

func (r *Reader) Str() (string, error) {
	b, err := r.String()
	return string(b), err
}

func (r *Reader) NameList() ([]string, error) {
	s, err := r.Str()
	if err != nil {
		return nil, err
	}
	if s == "" {
		return nil, nil
	}
	return splitComma(s), nil
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func (r *Reader) MpintSSH2() (*big.Int, error) {
	b, err := r.String()
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func (r *Reader) MpintSSH1() (*big.Int, error) {
	if r.pos+2 > len(r.buf) {
		return nil, fmt.Errorf("packet: truncated ssh-1 mpint bit count")
	}
	bits := int(r.buf[r.pos])<<8 | int(r.buf[r.pos+1])
	r.pos += 2
	nbytes := (bits + 7) / 8
	if r.pos+nbytes > len(r.buf) {
		return nil, fmt.Errorf("packet: truncated ssh-1 mpint value")
	}
	v := new(big.Int).SetBytes(r.buf[r.pos : r.pos+nbytes])
	r.pos += nbytes
	return v, nil
}

// Rest returns every remaining unread byte.
func (r *Reader) Rest() []byte {
	rest := r.buf[r.pos:]
	r.pos = len(r.buf)
	return rest
}
