package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/Sentinel-Gate/aipolicy/internal/domain/policy"
)

func sealN(t *testing.T, n int) []Entry {
	t.Helper()
	c := NewChain()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		e := NewDecisionEntry(KindGlobalDecision, "", policy.AIDecision{
			ActionHash: "0xabc",
			Confidence: policy.Score(8000 + i),
			Risk:       1000,
		}, now.Add(time.Duration(i)*time.Second))
		sealed, err := c.Seal(e)
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}
		c.Advance(sealed)
		out = append(out, sealed)
	}
	return out
}

func TestChain_SealLinksEntries(t *testing.T) {
	entries := sealN(t, 3)
	if entries[0].PrevHash != GenesisHash {
		t.Errorf("first PrevHash = %q, want genesis", entries[0].PrevHash)
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].Hash {
			t.Errorf("entry %d PrevHash does not link to predecessor", i)
		}
		if entries[i].Seq != uint64(i+1) {
			t.Errorf("entry %d Seq = %d", i, entries[i].Seq)
		}
	}
	if err := VerifyChain(entries); err != nil {
		t.Fatalf("VerifyChain() error = %v", err)
	}
}

func TestChain_SealDoesNotAdvance(t *testing.T) {
	c := NewChain()
	if _, err := c.Seal(NewAuditEntry(SecurityAudit{ContractHash: "c"}, time.Now())); err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	seq, head := c.Head()
	if seq != 0 || head != GenesisHash {
		t.Errorf("Head() = (%d, %q) after unadvanced Seal", seq, head)
	}
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func([]Entry)
		wantSeq uint64
	}{
		{"payload edited", func(es []Entry) {
			d := *es[1].Decision
			d.Confidence = 10000
			es[1].Decision = &d
		}, 2},
		{"hash rewritten", func(es []Entry) { es[2].Hash = GenesisHash }, 3},
		{"seq gap", func(es []Entry) { es[1].Seq = 5 }, 2},
		{"relinked", func(es []Entry) { es[0].PrevHash = es[2].Hash }, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := sealN(t, 3)
			tt.mutate(entries)
			err := VerifyChain(entries)
			var ce *ChainError
			if !errors.As(err, &ce) {
				t.Fatalf("VerifyChain() error = %v, want *ChainError", err)
			}
			if ce.Seq != tt.wantSeq {
				t.Errorf("ChainError.Seq = %d, want %d", ce.Seq, tt.wantSeq)
			}
		})
	}
}

func TestResumeChain(t *testing.T) {
	entries := sealN(t, 2)
	c := ResumeChain(entries[1].Seq, entries[1].Hash)
	next, err := c.Seal(NewAuditEntry(SecurityAudit{ContractHash: "x"}, time.Now()))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	c.Advance(next)
	if err := VerifyChain(append(entries, next)); err != nil {
		t.Fatalf("VerifyChain() after resume error = %v", err)
	}
	if seq, _ := ResumeChain(0, "").Head(); seq != 0 {
		t.Errorf("ResumeChain(0) seq = %d", seq)
	}
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		page       Page
		n          int
		start, end int
	}{
		{Page{}, 5, 0, 5},
		{Page{Offset: 2}, 5, 2, 5},
		{Page{Offset: 1, Limit: 2}, 5, 1, 3},
		{Page{Offset: 4, Limit: 10}, 5, 4, 5},
		{Page{Offset: 9}, 5, 5, 5},
		{Page{Offset: -3, Limit: 1}, 5, 0, 1},
	}
	for _, tt := range tests {
		s, e := tt.page.Bounds(tt.n)
		if s != tt.start || e != tt.end {
			t.Errorf("%+v.Bounds(%d) = (%d,%d), want (%d,%d)", tt.page, tt.n, s, e, tt.start, tt.end)
		}
	}
}

func TestSecurityAudit_IsAlert(t *testing.T) {
	if (SecurityAudit{VulnerabilityScore: 7000}).IsAlert() {
		t.Error("score equal to threshold raised an alert")
	}
	if !(SecurityAudit{VulnerabilityScore: 7001}).IsAlert() {
		t.Error("score above threshold did not raise an alert")
	}
}
