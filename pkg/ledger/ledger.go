package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attestia/grc-core/pkg/checkpoint"
)

// EntryHandler is notified after an entry commits. seq is the entry's
// zero-based chain index. Handlers run under the append lock so they
// observe entries in chain order; they receive a copy and must not block
// for long.
type EntryHandler func(seq int, e Entry)

// Ledger is the append-only, hash-chained audit trail. One instance is
// constructed at service start with its keys and injected into whichever
// collaborator needs to append or read; there is no ambient global.
//
// Append is serialized by a single writer lock because it reads the
// current tail hash and writes the new tail as one atomic step. Readers
// (Verify, Query, Summarize) snapshot the committed length at call time
// and may run concurrently with appends.
type Ledger struct {
	mu         sync.RWMutex
	keys       *Keyring
	entries    []*Entry
	byResource map[string][]int
	head       string

	clock  func() time.Time
	newID  func() string
	logger *slog.Logger
	meter  *ledgerMetrics

	handlers []EntryHandler

	checkpointID    string
	checkpointEvery int
	publisher       checkpoint.Publisher
}

// Option configures a Ledger at construction.
type Option func(*Ledger)

// WithClock overrides the timestamp source, for testing and replay.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithIDSource overrides entry ID generation. The default is random
// UUIDs; deterministic replays substitute a counter.
func WithIDSource(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithCheckpoints publishes the tail hash to pub after every n appends.
// Publication is the mitigation for chain truncation, which replay alone
// cannot detect: an external append-only record of tail hashes exposes a
// ledger whose published tail has vanished. Publication is best-effort
// and never fails the append.
func WithCheckpoints(id string, every int, pub checkpoint.Publisher) Option {
	return func(l *Ledger) {
		l.checkpointID = id
		l.checkpointEvery = every
		l.publisher = pub
	}
}

// New creates an empty ledger. The keyring is required; keys live with
// the caller, outside the ledger's own storage.
func New(keys *Keyring, opts ...Option) *Ledger {
	l := &Ledger{
		keys:       keys,
		entries:    make([]*Entry, 0),
		byResource: make(map[string][]int),
		head:       GenesisHash,
		clock:      time.Now,
		newID:      func() string { return uuid.New().String() },
		logger:     slog.Default().With("component", "audit_ledger"),
		meter:      newLedgerMetrics(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddHandler registers a handler for newly committed entries. Handlers
// added after appends begin only see subsequent entries.
func (l *Ledger) AddHandler(h EntryHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Append validates rec, computes the chained hash and signature, and
// commits exactly one new tail entry. Nothing is stored on failure.
func (l *Ledger) Append(rec Record) (*Entry, error) {
	if err := rec.validate(); err != nil {
		return nil, err
	}

	entry := newEntry(rec, l.newID)

	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clock()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	entry.PreviousHash = l.head

	canon, err := canonicalBytes(entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	pair := l.keys.pairFor(len(l.entries))
	entry.Hash = pair.entryHash(canon)
	entry.Signature, err = pair.entrySignature(entry.Hash)
	if err != nil {
		return nil, err
	}

	seq := len(l.entries)
	l.entries = append(l.entries, entry)
	l.byResource[resourceKey(entry.ResourceType, entry.ResourceID)] = append(
		l.byResource[resourceKey(entry.ResourceType, entry.ResourceID)], seq)
	l.head = entry.Hash

	for _, h := range l.handlers {
		h(seq, *entry)
	}
	l.maybeCheckpoint(seq + 1)

	l.meter.appended(context.Background())
	l.logger.Debug("entry appended",
		"seq", seq, "actor", entry.ActorID, "action", entry.Action,
		"resource", entry.ResourceType+"/"+entry.ResourceID)

	out := *entry
	return &out, nil
}

func newEntry(rec Record, newID func() string) *Entry {
	e := &Entry{
		ID:            newID(),
		Timestamp:     rec.Timestamp,
		ActorID:       rec.ActorID,
		ActorName:     rec.ActorName,
		Action:        rec.Action,
		ResourceType:  rec.ResourceType,
		ResourceID:    rec.ResourceID,
		ResourceName:  rec.ResourceName,
		Description:   rec.Description,
		Category:      rec.Category,
		Severity:      rec.Severity,
		Outcome:       rec.Outcome,
		Compliance:    rec.Compliance,
		PreviousValue: rec.PreviousValue,
		NewValue:      rec.NewValue,
		IPAddress:     rec.Context.IPAddress,
		UserAgent:     rec.Context.UserAgent,
		SessionID:     rec.Context.SessionID,
	}
	if e.Category == "" {
		e.Category = CategorySystem
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeSuccess
	}
	return e
}

func (l *Ledger) maybeCheckpoint(length int) {
	if l.publisher == nil || l.checkpointEvery <= 0 || length%l.checkpointEvery != 0 {
		return
	}
	cp := checkpoint.Checkpoint{
		LedgerID: l.checkpointID,
		Sequence: length,
		TailHash: l.head,
		At:       l.clock().UTC(),
	}
	if err := l.publisher.Publish(context.Background(), cp); err != nil {
		l.logger.Warn("checkpoint publication failed", "sequence", length, "error", err)
	}
}

// Len returns the number of committed entries.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Head returns the current tail hash, or GenesisHash when empty.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

// Entry returns a copy of the entry at zero-based index i.
func (l *Ledger) Entry(i int) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.entries) {
		return Entry{}, fmt.Errorf("%w: index %d", ErrNotFound, i)
	}
	return *l.entries[i], nil
}

// Entries returns a copy of the full committed sequence.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	return out
}

// TailAt returns the hash of the entry completing a prefix of the given
// length, for comparison against published checkpoints.
func (l *Ledger) TailAt(length int) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if length <= 0 || length > len(l.entries) {
		return "", false
	}
	return l.entries[length-1].Hash, true
}

// snapshot captures the committed entries for lock-free scanning.
// Committed entries are immutable, so readers can traverse the captured
// slice while appends continue to grow the tail.
func (l *Ledger) snapshot() []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[:len(l.entries):len(l.entries)]
}

func resourceKey(resourceType, resourceID string) string {
	return resourceType + "/" + resourceID
}
