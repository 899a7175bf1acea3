package packet

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/websoft9/sshcore/internal/sshcore/algorithms"
)

// SSH2Framer holds the per-direction cipher/MAC/compressor state needed to
// encode and decode the SSH-2 binary packet protocol :
//
//	uint32    packet_length
//	byte      padding_length
//	byte[n1]  payload      (n1 = packet_length - padding_length - 1)
//	byte[n2]  random padding
//	byte[m]   mac          (m = mac algorithm's length, unencrypted)
//
// A single Framer instance is mutated in place by transport.go as each
// rekey installs fresh ciphers and MAC state for both directions.
type SSH2Framer struct {
	encCipher algorithms.Cipher
	decCipher algorithms.Cipher
	encMAC    *algorithms.MAC
	decMAC    *algorithms.MAC
	compress  algorithms.Compressor
	decompr   algorithms.Decompressor

	seqOut uint32
	seqIn  uint32

	rng io.Reader
}

// NewSSH2Framer returns a framer with no cipher/MAC/compression installed,
// as used for the initial cleartext KEXINIT exchange.
func NewSSH2Framer() *SSH2Framer {
	return &SSH2Framer{rng: rand.Reader}
}

func (f *SSH2Framer) SetEncrypt(c algorithms.Cipher, m *algorithms.MAC) {
	f.encCipher, f.encMAC = c, m
}

func (f *SSH2Framer) SetDecrypt(c algorithms.Cipher, m *algorithms.MAC) {
	f.decCipher, f.decMAC = c, m
}

func (f *SSH2Framer) SetCompressor(c algorithms.Compressor)     { f.compress = c }
func (f *SSH2Framer) SetDecompressor(d algorithms.Decompressor) { f.decompr = d }

func (f *SSH2Framer) SeqOut() uint32 { return f.seqOut }
func (f *SSH2Framer) SeqIn() uint32  { return f.seqIn }

// OutBlockSize reports the cipher block size currently used for outgoing
// packets, the granularity password-masking padding must round up to.
func (f *SSH2Framer) OutBlockSize() int { return blockSizeOf(f.encCipher) }

func blockSizeOf(c algorithms.Cipher) int {
	if c == nil {
		return 8
	}
	bs := c.BlockSize()
	if bs < 8 {
		return 8
	}
	return bs
}

// EncodePacket builds the on-wire bytes for one SSH-2 packet carrying
// payload (which already begins with the message-type byte), applying
// compression, padding, encryption and MAC as currently installed, and
// advances the outgoing sequence number.
func (f *SSH2Framer) EncodePacket(payload []byte) ([]byte, error) {
	body := payload
	if f.compress != nil {
		var err error
		body, err = f.compress.Block(payload)
		if err != nil {
			return nil, fmt.Errorf("packet: compress: %w", err)
		}
	}

	bs := blockSizeOf(f.encCipher)
	// total framed length (length field + padlen byte + body + pad) must be
	// a multiple of bs; padlen must be at least 4.
	base := 4 + 1 + len(body)
	padLen := bs - (base % bs)
	if padLen < 4 {
		padLen += bs
	}

	packetLength := 1 + len(body) + padLen
	buf := make([]byte, 4+packetLength)
	binary.BigEndian.PutUint32(buf[0:4], uint32(packetLength))
	buf[4] = byte(padLen)
	copy(buf[5:], body)
	pad := buf[5+len(body):]
	if _, err := io.ReadFull(f.rng, pad); err != nil {
		return nil, fmt.Errorf("packet: random padding: %w", err)
	}

	var mac []byte
	if f.encMAC != nil {
		mac = f.encMAC.Generate(f.seqOut, buf)
	}

	if f.encCipher != nil {
		bsz := f.encCipher.BlockSize()
		if bsz <= 1 {
			f.encCipher.Encrypt(buf)
		} else {
			for off := 0; off < len(buf); off += bsz {
				f.encCipher.Encrypt(buf[off : off+bsz])
			}
		}
	}

	f.seqOut++
	return append(buf, mac...), nil
}

// ReadPacket reads and decodes exactly one SSH-2 packet from r, verifying
// its MAC and decompressing its payload, and advances the incoming
// sequence number.
func (f *SSH2Framer) ReadPacket(r io.Reader) (*Packet, error) {
	bs := blockSizeOf(f.decCipher)

	first := make([]byte, bs)
	if _, err := io.ReadFull(r, first); err != nil {
		return nil, err
	}
	plainFirst := append([]byte(nil), first...)
	if f.decCipher != nil {
		if bsz := f.decCipher.BlockSize(); bsz <= 1 {
			f.decCipher.Decrypt(plainFirst)
		} else {
			for off := 0; off < len(plainFirst); off += bsz {
				f.decCipher.Decrypt(plainFirst[off : off+bsz])
			}
		}
	}

	packetLength := binary.BigEndian.Uint32(plainFirst[0:4])
	if packetLength < 1 || packetLength > 256*1024 {
		return nil, fmt.Errorf("packet: implausible packet_length %d", packetLength)
	}

	remaining := int(packetLength) - (bs - 4)
	if remaining < 0 {
		return nil, fmt.Errorf("packet: packet_length %d shorter than one cipher block", packetLength)
	}
	rest := make([]byte, remaining)
	if remaining > 0 {
		if _, err := io.ReadFull(r, rest); err != nil {
			return nil, err
		}
	}
	plainRest := append([]byte(nil), rest...)
	if f.decCipher != nil && remaining > 0 {
		bsz := f.decCipher.BlockSize()
		if bsz <= 1 {
			f.decCipher.Decrypt(plainRest)
		} else {
			for off := 0; off+bsz <= len(plainRest); off += bsz {
				f.decCipher.Decrypt(plainRest[off : off+bsz])
			}
		}
	}

	full := append(append([]byte{}, plainFirst[4:]...), plainRest...)
	if len(full) < 1 {
		return nil, fmt.Errorf("packet: empty framed body")
	}
	padLen := int(full[0])
	if padLen+1 > len(full) {
		return nil, fmt.Errorf("packet: padding_length %d exceeds body", padLen)
	}
	body := full[1 : len(full)-padLen]

	if f.decMAC != nil {
		mac := make([]byte, f.decMAC.Len())
		if _, err := io.ReadFull(r, mac); err != nil {
			return nil, err
		}
		wholePacket := append(append([]byte{}, plainFirst[:4]...), full...)
		if !f.decMAC.Verify(f.seqIn, wholePacket, mac) {
			return nil, fmt.Errorf("packet: mac verification failed")
		}
	}

	if f.decompr != nil {
		decomp, err := f.decompr.Block(body)
		if err != nil {
			return nil, fmt.Errorf("packet: decompress: %w", err)
		}
		body = decomp
	}
	if len(body) < 1 {
		return nil, fmt.Errorf("packet: empty payload after depadding")
	}

	f.seqIn++
	return &Packet{Type: body[0], Payload: body[1:]}, nil
}
