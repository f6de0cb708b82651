// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"net"
	"testing"
)

func TestRecordSuccessAndFailureAffectQuality(t *testing.T) {
	reg := New(1000)
	reg.Upsert("peer-a", net.ParseIP("10.0.0.1"), false, 100)

	reg.RecordSuccess("peer-a", 50, 101)
	if got := reg.Score("peer-a"); got < 90 {
		t.Fatalf("quality after clean success = %d, want close to 100", got)
	}

	for i := 0; i < 10; i++ {
		reg.RecordFailure("peer-a")
	}
	if got := reg.Score("peer-a"); got != 0 {
		t.Fatalf("quality after 10 failures = %d, want 0", got)
	}
}

func TestPickCandidatesPrefersSubnetDiversity(t *testing.T) {
	reg := New(1000)
	reg.Upsert("a1", net.ParseIP("10.0.0.1"), false, 0)
	reg.Upsert("a2", net.ParseIP("10.0.0.2"), false, 0)
	reg.Upsert("b1", net.ParseIP("192.168.1.1"), false, 0)

	picked := reg.PickCandidates(2, nil, 0)
	if len(picked) != 2 {
		t.Fatalf("picked %d candidates, want 2", len(picked))
	}
	buckets := make(map[string]bool)
	for _, rec := range picked {
		buckets[SubnetBucket(rec.IP)] = true
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 distinct subnet buckets in top pick, got %d", len(buckets))
	}
}

func TestPickCandidatesExcludesBanned(t *testing.T) {
	reg := New(1000)
	reg.Upsert("a1", net.ParseIP("10.0.0.1"), false, 0)
	reg.Ban("a1", 1000)

	picked := reg.PickCandidates(5, nil, 500)
	if len(picked) != 0 {
		t.Fatalf("expected banned peer to be excluded, got %d candidates", len(picked))
	}
}

func TestDiversityScoreAndOverRepresentedBucket(t *testing.T) {
	peers := []*PeerRecord{
		{URL: "a1", IP: net.ParseIP("10.0.0.1")},
		{URL: "a2", IP: net.ParseIP("10.0.0.2")},
		{URL: "b1", IP: net.ParseIP("192.168.1.1")},
	}
	if got := DiversityScore(peers); got <= 0 || got > 1 {
		t.Fatalf("diversity score out of range: %v", got)
	}
	if got := OverRepresentedBucket(peers); got != SubnetBucket(net.ParseIP("10.0.0.1")) {
		t.Fatalf("over-represented bucket = %q, want the 10.0.0.0/24 bucket", got)
	}
}
