package bufchain

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestAddSizePrefixConsume(t *testing.T) {
	var c Chain
	if c.Size() != 0 || c.Prefix() != nil {
		t.Fatalf("zero value chain should be empty")
	}

	c.Add([]byte("hello "))
	c.Add([]byte("world"))
	if c.Size() != 11 {
		t.Fatalf("Size() = %d, want 11", c.Size())
	}

	got := c.Bytes()
	if string(got) != "hello world" {
		t.Fatalf("Bytes() = %q, want %q", got, "hello world")
	}

	c.Consume(6)
	if c.Size() != 5 {
		t.Fatalf("Size() after consume = %d, want 5", c.Size())
	}
	if string(c.Bytes()) != "world" {
		t.Fatalf("Bytes() after consume = %q, want %q", c.Bytes(), "world")
	}

	c.Consume(5)
	if c.Size() != 0 {
		t.Fatalf("Size() after full consume = %d, want 0", c.Size())
	}
	if c.Prefix() != nil {
		t.Fatalf("Prefix() on empty chain should be nil")
	}
}

func TestCrossGranuleWritesAndReads(t *testing.T) {
	var c Chain
	var want bytes.Buffer

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		n := rng.Intn(1000) + 1
		buf := make([]byte, n)
		rng.Read(buf)
		c.Add(buf)
		want.Write(buf)
	}

	var got bytes.Buffer
	for c.Size() > 0 {
		p := c.Prefix()
		if len(p) == 0 {
			t.Fatalf("Prefix() returned empty slice while Size() = %d", c.Size())
		}
		take := p[:1+rng.Intn(len(p))]
		got.Write(take)
		c.Consume(len(take))
	}

	if !bytes.Equal(got.Bytes(), want.Bytes()) {
		t.Fatalf("consumed bytes mismatch: got %d bytes, want %d bytes", got.Len(), want.Len())
	}
}

func TestClear(t *testing.T) {
	var c Chain
	c.Add([]byte("data"))
	c.Clear()
	if c.Size() != 0 || c.Prefix() != nil {
		t.Fatalf("Clear() should empty the chain")
	}
	// chain must still be usable after Clear
	c.Add([]byte("more"))
	if string(c.Bytes()) != "more" {
		t.Fatalf("chain unusable after Clear()")
	}
}

func TestConsumeBeyondSizePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic consuming beyond Size()")
		}
	}()
	var c Chain
	c.Add([]byte("x"))
	c.Consume(2)
}
