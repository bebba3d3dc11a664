package orders

import (
	"sync"
	"time"
)

// Record ties a local order reference to the remote order id the terminal
// assigned, along with the terminal order-type tag and instrument needed to
// cancel or reconcile it later.
type Record struct {
	Ref      string
	RemoteID string
	TypeTag  string
	Symbol   string

	settledAt time.Time
}

// Book is the mutex-guarded order record mapping shared by the gateway
// workers and the reconciliation path. A remote id maps to at most one local
// reference at any time.
//
// Records are never removed while open. Settled records are retained for the
// configured grace period so late transaction events still resolve, then
// evicted; a zero grace period disables eviction and the book grows for the
// lifetime of the session.
type Book struct {
	mu       sync.Mutex
	byRef    map[string]*Record
	byRemote map[string]string
	grace    time.Duration
	now      func() time.Time
}

// NewBook creates an order book with the given settled-record grace period.
func NewBook(grace time.Duration) *Book {
	return &Book{
		byRef:    make(map[string]*Record),
		byRemote: make(map[string]string),
		grace:    grace,
		now:      time.Now,
	}
}

// Bind records the remote id and order-type tag the terminal assigned to a
// local reference. Rebinding a remote id already held by another reference
// drops the stale reference, preserving the one-reference-per-remote-id
// invariant.
func (b *Book) Bind(ref, remoteID, typeTag, symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if stale, ok := b.byRemote[remoteID]; ok && stale != ref {
		delete(b.byRef, stale)
	}
	b.byRef[ref] = &Record{Ref: ref, RemoteID: remoteID, TypeTag: typeTag, Symbol: symbol}
	b.byRemote[remoteID] = ref
	b.evictLocked()
}

// Lookup returns the record for a local reference.
func (b *Book) Lookup(ref string) (Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.byRef[ref]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Resolve returns the local reference a remote id is bound to.
func (b *Book) Resolve(remoteID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref, ok := b.byRemote[remoteID]
	return ref, ok
}

// Settle marks a reference as settled (filled, cancelled or rejected),
// starting its eviction clock. Settling an unknown reference is a no-op.
func (b *Book) Settle(ref string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rec, ok := b.byRef[ref]; ok && rec.settledAt.IsZero() {
		rec.settledAt = b.now()
	}
	b.evictLocked()
}

// Evict removes settled records older than the grace period and reports how
// many were dropped.
func (b *Book) Evict() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evictLocked()
}

func (b *Book) evictLocked() int {
	if b.grace <= 0 {
		return 0
	}
	cutoff := b.now().Add(-b.grace)
	evicted := 0
	for ref, rec := range b.byRef {
		if rec.settledAt.IsZero() || rec.settledAt.After(cutoff) {
			continue
		}
		delete(b.byRef, ref)
		if b.byRemote[rec.RemoteID] == ref {
			delete(b.byRemote, rec.RemoteID)
		}
		evicted++
	}
	return evicted
}

// Len reports the number of records currently held.
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byRef)
}
