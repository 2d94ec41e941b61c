package challenge

import (
	"testing"
	"time"
)

func TestTakeIsSingleUse(t *testing.T) {
	s := NewStore()
	s.Put("txid-1", []byte("payload"))

	got, ok := s.Take("txid-1")
	if !ok || string(got) != "payload" {
		t.Fatalf("first take failed: ok=%v payload=%q", ok, got)
	}
	if _, ok := s.Take("txid-1"); ok {
		t.Fatalf("second take should miss")
	}
}

func TestTakeUnknown(t *testing.T) {
	s := NewStore()
	if _, ok := s.Take("never-issued"); ok {
		t.Fatalf("unknown txid should miss")
	}
}

func TestExpiry(t *testing.T) {
	now := time.Now()
	s := NewStoreWithClock(func() time.Time { return now })
	s.Put("txid-1", []byte("payload"))

	now = now.Add(TTL + time.Second)
	if _, ok := s.Take("txid-1"); ok {
		t.Fatalf("expired challenge should miss even before the sweep")
	}
}

func TestSweep(t *testing.T) {
	now := time.Now()
	s := NewStoreWithClock(func() time.Time { return now })
	s.Put("old", []byte("a"))
	now = now.Add(TTL + time.Second)
	s.Put("fresh", []byte("b"))

	s.sweep()
	if s.Len() != 1 {
		t.Fatalf("expected 1 entry after sweep, got %d", s.Len())
	}
	if _, ok := s.Take("fresh"); !ok {
		t.Fatalf("fresh entry should survive the sweep")
	}
}

func TestNewTxidShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 32; i++ {
		txid, err := NewTxid()
		if err != nil {
			t.Fatalf("new txid: %v", err)
		}
		if len(txid) != TxidLength {
			t.Fatalf("expected %d chars, got %d (%q)", TxidLength, len(txid), txid)
		}
		if seen[txid] {
			t.Fatalf("duplicate txid %q", txid)
		}
		seen[txid] = true
	}
}
