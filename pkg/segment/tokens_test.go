package segment

import "testing"

func TestLazyTokenCounterDefersLoad(t *testing.T) {
	c := LazyTokenCounter("no-such-encoding")
	if c.enc != nil || c.err != nil {
		t.Fatalf("encoding loaded at construction: enc=%v err=%v", c.enc, c.err)
	}
	if got := c.Count("Cash was $5 billion."); got != 0 {
		t.Fatalf("Count() = %d, want 0 for an unknown encoding", got)
	}
	if c.err == nil {
		t.Fatal("expected the load error to be kept after the first Count")
	}
}

func TestLazyTokenCounterDefaultName(t *testing.T) {
	if c := LazyTokenCounter(""); c.name != DefaultEncoder {
		t.Fatalf("name = %q, want %q", c.name, DefaultEncoder)
	}
}

func TestNewTokenCounterUnknownEncoding(t *testing.T) {
	if _, err := NewTokenCounter("no-such-encoding"); err == nil {
		t.Fatal("expected an error for an unknown encoding")
	}
}

func TestNilTokenCounter(t *testing.T) {
	var c *TokenCounter
	if got := c.Count("text"); got != 0 {
		t.Fatalf("Count() = %d, want 0", got)
	}
}
