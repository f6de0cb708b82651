// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"testing"

	"github.com/aix-network/aixd/crypto"
)

type fakeConn struct {
	written [][]byte
	closed  bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.written = append(c.written, data)
	return nil
}
func (c *fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, nil }
func (c *fakeConn) Close() error                      { c.closed = true; return nil }

type fakeQuality struct {
	failures int
}

func (q *fakeQuality) RecordSuccess(string, float64, int64) {}
func (q *fakeQuality) RecordFailure(string)                 { q.failures++ }

func TestMarkHandshakedTransitionsToActive(t *testing.T) {
	p := New("peer-a", &fakeConn{}, 100, 4, &fakeQuality{}, nil)
	if p.State() != StateHandshaking {
		t.Fatalf("initial state = %v, want handshaking", p.State())
	}
	p.MarkHandshaked(1, 10, 1000)
	if p.State() != StateActive {
		t.Fatalf("state after handshake = %v, want active", p.State())
	}
	if p.ChainHeight() != 10 {
		t.Fatalf("chain height = %d, want 10", p.ChainHeight())
	}
}

func TestSeenContentDedups(t *testing.T) {
	p := New("peer-a", &fakeConn{}, 100, 4, &fakeQuality{}, nil)
	h := crypto.Sum([]byte("x"))
	if p.SeenContent(h) {
		t.Fatal("first sighting should not be a dup")
	}
	if !p.SeenContent(h) {
		t.Fatal("second sighting should be a dup")
	}
}

func TestEnqueueOverflowDropsOldestAndPenalizes(t *testing.T) {
	q := &fakeQuality{}
	p := New("peer-a", &fakeConn{}, 100, 2, q, nil)

	p.Enqueue([]byte("1"))
	p.Enqueue([]byte("2"))
	p.Enqueue([]byte("3")) // overflow: drops "1"

	if q.failures != 1 {
		t.Fatalf("failures recorded = %d, want 1", q.failures)
	}
	if len(p.sendCh) != 2 {
		t.Fatalf("queue length = %d, want 2", len(p.sendCh))
	}
}

func TestCloseIsIdempotentAndTransitionsState(t *testing.T) {
	conn := &fakeConn{}
	p := New("peer-a", conn, 100, 4, &fakeQuality{}, nil)
	p.Close()
	p.Close() // must not panic on double close
	if p.State() != StateDisconnected {
		t.Fatalf("state after close = %v, want disconnected", p.State())
	}
	if !conn.closed {
		t.Fatal("expected underlying connection to be closed")
	}
}
