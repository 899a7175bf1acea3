package packet

import (
	"bytes"
	"math/big"
	"testing"
)

func TestBuilderReaderRoundTrip(t *testing.T) {
	b := NewBuilder(42)
	b.Byte(7)
	b.Bool(true)
	b.Uint32(123456)
	b.Str("hello")
	b.NameList([]string{"aes256-ctr", "aes128-ctr", "none"})
	b.MpintSSH2(big.NewInt(0x8000)) // needs leading zero byte

	raw := b.Bytes()
	if raw[0] != 42 {
		t.Fatalf("type byte = %d, want 42", raw[0])
	}

	r := NewReader(raw[1:])
	if v, err := r.Byte(); err != nil || v != 7 {
		t.Fatalf("Byte() = %d, %v", v, err)
	}
	if v, err := r.Bool(); err != nil || !v {
		t.Fatalf("Bool() = %v, %v", v, err)
	}
	if v, err := r.Uint32(); err != nil || v != 123456 {
		t.Fatalf("Uint32() = %d, %v", v, err)
	}
	if s, err := r.Str(); err != nil || s != "hello" {
		t.Fatalf("Str() = %q, %v", s, err)
	}
	if names, err := r.NameList(); err != nil || len(names) != 3 || names[1] != "aes128-ctr" {
		t.Fatalf("NameList() = %v, %v", names, err)
	}
	if n, err := r.MpintSSH2(); err != nil || n.Cmp(big.NewInt(0x8000)) != 0 {
		t.Fatalf("MpintSSH2() = %v, %v", n, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("Remaining() = %d, want 0", r.Remaining())
	}
}

func TestMpintSSH2LeadingZero(t *testing.T) {
	b := NewBuilder(1)
	b.MpintSSH2(big.NewInt(0x80))
	raw := b.Bytes()
	// type byte, then 4-byte length, then payload
	length := int(raw[1])<<24 | int(raw[2])<<16 | int(raw[3])<<8 | int(raw[4])
	if length != 2 {
		t.Fatalf("encoded length = %d, want 2 (leading zero + 0x80)", length)
	}
	if raw[5] != 0 || raw[6] != 0x80 {
		t.Fatalf("encoded bytes = %v, want [0 0x80]", raw[5:7])
	}
}

func TestMpintSSH1RoundTrip(t *testing.T) {
	b := NewBuilder(1)
	want := big.NewInt(0x123456789)
	b.MpintSSH1(want)

	r := NewReader(b.Bytes()[1:])
	got, err := r.MpintSSH1()
	if err != nil {
		t.Fatalf("MpintSSH1: %v", err)
	}
	if got.Cmp(want) != 0 {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestStartFinishString(t *testing.T) {
	b := NewBuilder(1)
	pos := b.StartString()
	b.Raw([]byte("abc"))
	b.Raw([]byte("def"))
	b.FinishString(pos)

	r := NewReader(b.Bytes()[1:])
	s, err := r.String()
	if err != nil {
		t.Fatalf("String: %v", err)
	}
	if !bytes.Equal(s, []byte("abcdef")) {
		t.Fatalf("got %q, want %q", s, "abcdef")
	}
}

func TestReaderTruncatedFields(t *testing.T) {
	r := NewReader([]byte{0, 0, 0, 5, 'a', 'b'})
	if _, err := r.String(); err == nil {
		t.Fatalf("expected truncated string error")
	}
}
