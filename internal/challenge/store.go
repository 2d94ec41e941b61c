// Package challenge keeps the pending payloads of the two-phase command
// protocol. Entries are process-local and intentionally lost on restart;
// an in-flight challenge is never worth persisting.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// TTL is the window in which an issued challenge may be answered.
	TTL = 2 * time.Minute
	// sweepEvery is how often expired entries are purged.
	sweepEvery = 15 * time.Second

	// TxidLength is the base64url length of a 24-byte transaction id.
	TxidLength = 32
)

type entry struct {
	payload []byte
	issued  time.Time
}

// Store maps transaction ids to pending command payloads with read-once
// consumption and time-based eviction.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// NewStoreWithClock constructs a Store with an injected clock for tests.
func NewStoreWithClock(now func() time.Time) *Store {
	s := NewStore()
	if now != nil {
		s.now = now
	}
	return s
}

// NewTxid returns a fresh random transaction id: 24 random bytes, base64
// with '/' replaced by '-' so ids stay URL-safe.
func NewTxid() (string, error) {
	var raw [24]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("challenge: random txid: %w", err)
	}
	return strings.ReplaceAll(base64.StdEncoding.EncodeToString(raw[:]), "/", "-"), nil
}

// Put stores the payload under txid.
func (s *Store) Put(txid string, payload []byte) {
	s.mu.Lock()
	s.entries[txid] = entry{payload: payload, issued: s.now()}
	s.mu.Unlock()
}

// Take removes and returns the payload stored under txid. The second
// return is false when the id is unknown or already consumed; a replayed
// txid therefore always misses.
func (s *Store) Take(txid string) ([]byte, bool) {
	s.mu.Lock()
	e, ok := s.entries[txid]
	if ok {
		delete(s.entries, txid)
	}
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	if s.now().Sub(e.issued) > TTL {
		return nil, false
	}
	return e.payload, true
}

// Len returns the number of pending challenges.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// sweep drops entries older than the TTL even if never fetched.
func (s *Store) sweep() {
	cutoff := s.now().Add(-TTL)
	s.mu.Lock()
	for txid, e := range s.entries {
		if e.issued.Before(cutoff) {
			delete(s.entries, txid)
		}
	}
	s.mu.Unlock()
}

// Start runs the periodic sweeper until the context is canceled.
func (s *Store) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
	log.Infof("challenge sweeper started (ttl=%s)", TTL)
}
