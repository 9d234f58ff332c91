package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// GenesisHash is the previous-hash sentinel for the first entry: an
// all-zero value of the primary digest's width.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const (
	minKeyLen = 16
	// blake2b rejects keys longer than its block-level limit.
	maxSignKeyLen = 64
)

// KeyPair holds the two independently scoped keys for one chain segment:
// HashKey feeds the primary HMAC-SHA256 content hash, SignKey feeds the
// secondary keyed BLAKE2b-512 signature. Distinct keys, algorithms, and
// widths mean a single compromised key cannot forge both digests.
type KeyPair struct {
	HashKey []byte
	SignKey []byte
}

func (p KeyPair) validate() error {
	if len(p.HashKey) < minKeyLen {
		return fmt.Errorf("%w: hash key must be at least %d bytes", ErrKeyMaterial, minKeyLen)
	}
	if len(p.SignKey) < minKeyLen || len(p.SignKey) > maxSignKeyLen {
		return fmt.Errorf("%w: sign key must be %d..%d bytes", ErrKeyMaterial, minKeyLen, maxSignKeyLen)
	}
	return nil
}

// entryHash computes the primary keyed digest over canonical entry bytes.
func (p KeyPair) entryHash(canonical []byte) string {
	mac := hmac.New(sha256.New, p.HashKey)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil))
}

// entrySignature computes the secondary keyed digest over the hex hash.
func (p KeyPair) entrySignature(hash string) (string, error) {
	h, err := blake2b.New512(p.SignKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrKeyMaterial, err)
	}
	h.Write([]byte(hash))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// digestEqual compares hex digests in constant time.
func digestEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

type keySegment struct {
	from int // first entry index this pair covers
	pair KeyPair
}

// Keyring holds the active key pair plus retired pairs with the index
// range each covered. Rotation retains retired keys so historical
// segments stay verifiable; re-signing history would rewrite stored
// bytes, which the ledger promises never to do.
type Keyring struct {
	mu       sync.RWMutex
	segments []keySegment
}

// NewKeyring creates a keyring with a single active pair covering the
// whole chain. Keys are held by the caller, never by the ledger's store.
func NewKeyring(hashKey, signKey []byte) (*Keyring, error) {
	pair := KeyPair{HashKey: hashKey, SignKey: signKey}
	if err := pair.validate(); err != nil {
		return nil, err
	}
	return &Keyring{segments: []keySegment{{from: 0, pair: pair}}}, nil
}

// RotateAt retires the active pair and installs a new one for entries at
// index from and later. from must be beyond the previous segment start;
// rotating at the current ledger length leaves history verifiable under
// the retired keys.
func (k *Keyring) RotateAt(from int, hashKey, signKey []byte) error {
	pair := KeyPair{HashKey: hashKey, SignKey: signKey}
	if err := pair.validate(); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if last := k.segments[len(k.segments)-1]; from <= last.from {
		return fmt.Errorf("%w: rotation index %d not after segment start %d", ErrKeyMaterial, from, last.from)
	}
	k.segments = append(k.segments, keySegment{from: from, pair: pair})
	return nil
}

// pairFor returns the pair covering the entry at index i.
func (k *Keyring) pairFor(i int) KeyPair {
	k.mu.RLock()
	defer k.mu.RUnlock()
	for s := len(k.segments) - 1; s >= 0; s-- {
		if k.segments[s].from <= i {
			return k.segments[s].pair
		}
	}
	return k.segments[0].pair
}
