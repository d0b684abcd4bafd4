package ptymgr

import "testing"

func TestRingBufferRetainsOnlyLastCapacityBytes(t *testing.T) {
	r := newRingBuffer(4)
	r.Write([]byte("ab"))
	r.Write([]byte("cdef"))
	if got := string(r.Bytes()); got != "cdef" {
		t.Fatalf("got %q, want %q", got, "cdef")
	}
}

func TestTailBufferKeepsMostRecentBytes(t *testing.T) {
	tb := newTailBuffer(3)
	tb.Write([]byte("hello"))
	if got := tb.String(); got != "llo" {
		t.Fatalf("got %q, want %q", got, "llo")
	}
}
