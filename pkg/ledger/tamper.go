package ledger

// Fault injection for exercising the verifier. Everything here is
// unexported and called only from this package's tests; no production
// import path can mutate, delete, insert into, or reorder the store,
// which keeps the public contract append-only.

// tamperEntry mutates the stored entry at index i in place, without
// rehashing.
func (l *Ledger) tamperEntry(i int, mutate func(*Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mutate(l.entries[i])
}

// deleteEntry removes the stored entry at index i.
func (l *Ledger) deleteEntry(i int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	l.rebuildLocked()
}

// insertEntry splices a foreign entry in at index i.
func (l *Ledger) insertEntry(i int, e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, nil)
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = &e
	l.rebuildLocked()
}

// swapEntries exchanges the stored entries at i and j.
func (l *Ledger) swapEntries(i, j int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[i], l.entries[j] = l.entries[j], l.entries[i]
	l.rebuildLocked()
}

// rebuildLocked recomputes the resource index and tail after a splice.
func (l *Ledger) rebuildLocked() {
	l.byResource = make(map[string][]int)
	for i, e := range l.entries {
		key := resourceKey(e.ResourceType, e.ResourceID)
		l.byResource[key] = append(l.byResource[key], i)
	}
	l.head = GenesisHash
	if n := len(l.entries); n > 0 {
		l.head = l.entries[n-1].Hash
	}
}
