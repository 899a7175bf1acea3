package packet

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/websoft9/sshcore/internal/sshcore/algorithms"
)

// SSH1Framer implements the legacy SSH-1 binary packet protocol:
//
//	uint32   packet_length            (length of type+data+CRC, not padding)
//	byte[]   padding                  (1-8 bytes, total length % 8 == 0)
//	byte     type
//	byte[]   data
//	uint32   crc                      (CRC32 over padding+type+data)
//
// Once a cipher is installed everything from the first padding byte through
// the CRC is encrypted; the leading packet_length field is always sent in
// the clear.
type SSH1Framer struct {
	encCipher algorithms.Cipher
	decCipher algorithms.Cipher
	rng       io.Reader
}

func NewSSH1Framer() *SSH1Framer {
	return &SSH1Framer{rng: rand.Reader}
}

func (f *SSH1Framer) SetEncrypt(c algorithms.Cipher) { f.encCipher = c }
func (f *SSH1Framer) SetDecrypt(c algorithms.Cipher) { f.decCipher = c }

// EncodePacket builds the on-wire bytes for one SSH-1 packet carrying
// msgType and data.
func (f *SSH1Framer) EncodePacket(msgType byte, data []byte) ([]byte, error) {
	body := append([]byte{msgType}, data...)
	crcLen := 4
	packetLength := len(body) + crcLen
	padLen := 8 - packetLength%8 // always in [1,8]: padding is mandatory

	framed := make([]byte, padLen+len(body)+crcLen)
	if _, err := io.ReadFull(f.rng, framed[:padLen]); err != nil {
		return nil, fmt.Errorf("packet: ssh1 random padding: %w", err)
	}
	copy(framed[padLen:], body)

	crc := crc32.ChecksumIEEE(framed[:padLen+len(body)])
	binary.BigEndian.PutUint32(framed[padLen+len(body):], crc)

	out := make([]byte, 4, 4+len(framed))
	binary.BigEndian.PutUint32(out, uint32(packetLength))

	if f.encCipher != nil {
		encryptSSH1(f.encCipher, framed)
	}
	out = append(out, framed...)
	return out, nil
}

// ReadPacket reads and decodes exactly one SSH-1 packet from r.
func (f *SSH1Framer) ReadPacket(r io.Reader) (*Packet, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	packetLength := binary.BigEndian.Uint32(lenBuf[:])
	if packetLength < 5 || packetLength > 256*1024 {
		return nil, fmt.Errorf("packet: implausible ssh1 packet_length %d", packetLength)
	}

	padLen := 8 - int(packetLength%8) // always in [1,8]

	framed := make([]byte, padLen+int(packetLength))
	if _, err := io.ReadFull(r, framed); err != nil {
		return nil, err
	}
	if f.decCipher != nil {
		decryptSSH1(f.decCipher, framed)
	}

	body := framed[padLen : padLen+int(packetLength)-4]
	gotCRC := binary.BigEndian.Uint32(framed[padLen+int(packetLength)-4:])
	wantCRC := crc32.ChecksumIEEE(framed[:padLen+int(packetLength)-4])
	if gotCRC != wantCRC {
		return nil, fmt.Errorf("packet: ssh1 crc mismatch")
	}

	return &Packet{Type: body[0], Payload: body[1:]}, nil
}

func encryptSSH1(c algorithms.Cipher, buf []byte) {
	bs := c.BlockSize()
	if bs <= 1 {
		c.Encrypt(buf)
		return
	}
	for off := 0; off+bs <= len(buf); off += bs {
		c.Encrypt(buf[off : off+bs])
	}
}

func decryptSSH1(c algorithms.Cipher, buf []byte) {
	bs := c.BlockSize()
	if bs <= 1 {
		c.Decrypt(buf)
		return
	}
	for off := 0; off+bs <= len(buf); off += bs {
		c.Decrypt(buf[off : off+bs])
	}
}
