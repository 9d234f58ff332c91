// Package checkpoint publishes audit-chain tail hashes to an
// independent, append-only medium.
//
// Chain replay cannot detect truncation: a ledger whose trailing entries
// were removed remains internally consistent. An external record of
// periodically published tail hashes closes that gap: a stored chain
// that can no longer produce a previously published tail has been
// truncated or rewritten. Detection is only as trustworthy as the
// medium holding the checkpoints, which is why it lives outside the
// ledger's own storage.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnpublished is returned when a ledger has no checkpoints yet.
var ErrUnpublished = errors.New("checkpoint: none published")

// Checkpoint pins one published tail: after Sequence entries the chain
// tail hash was TailHash.
type Checkpoint struct {
	LedgerID string    `json:"ledger_id"`
	Sequence int       `json:"sequence"`
	TailHash string    `json:"tail_hash"`
	At       time.Time `json:"at"`
}

// Publisher is the append-only checkpoint medium.
type Publisher interface {
	Publish(ctx context.Context, cp Checkpoint) error
	List(ctx context.Context, ledgerID string) ([]Checkpoint, error)
}

// TailFunc reports the stored chain's tail hash after sequence entries,
// or false when the chain is shorter than sequence.
type TailFunc func(sequence int) (string, bool)

// Compare checks every published checkpoint against the stored chain.
// A checkpoint beyond the chain's length means trailing entries were
// removed; a differing tail hash means history was rewritten.
func Compare(cps []Checkpoint, tail TailFunc) error {
	if len(cps) == 0 {
		return ErrUnpublished
	}
	for _, cp := range cps {
		got, ok := tail(cp.Sequence)
		if !ok {
			return fmt.Errorf("chain truncated: published checkpoint at sequence %d exceeds stored length", cp.Sequence)
		}
		if got != cp.TailHash {
			return fmt.Errorf("chain rewritten: tail at sequence %d is %s, published %s", cp.Sequence, got, cp.TailHash)
		}
	}
	return nil
}

// Memory is an in-process Publisher for tests and single-process use.
// It defeats no insider with access to the same process, and exists to
// exercise the protocol.
type Memory struct {
	mu  sync.RWMutex
	cps map[string][]Checkpoint
}

// NewMemory creates an empty in-memory publisher.
func NewMemory() *Memory {
	return &Memory{cps: make(map[string][]Checkpoint)}
}

// Publish appends cp to the ledger's checkpoint list.
func (m *Memory) Publish(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps[cp.LedgerID] = append(m.cps[cp.LedgerID], cp)
	return nil
}

// List returns all checkpoints published for ledgerID, oldest first.
func (m *Memory) List(_ context.Context, ledgerID string) ([]Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Checkpoint, len(m.cps[ledgerID]))
	copy(out, m.cps[ledgerID])
	return out, nil
}
