// Package audit keeps a hash-chained log of security relevant actions. Each
// entry commits to its predecessor, so edits and deletions break the chain.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/n3c4s/alohomora/internal/storage"
)

const storeKey = "audit/log"

var ErrChainBroken = errors.New("audit: chain broken")

type Entry struct {
	TS      int64  `json:"ts"`
	Action  string `json:"action"`
	Subject string `json:"subject,omitempty"`
	Hash    string `json:"hash"`
}

type Log struct {
	mu       sync.Mutex
	lastHash []byte
	entries  []Entry
	store    storage.BlobStore
}

// New returns an in-memory log.
func New() *Log { return &Log{} }

// Load reads the log persisted in store and verifies it. Later appends are
// written back to store.
func Load(ctx context.Context, store storage.BlobStore) (*Log, error) {
	l := &Log{store: store}
	b, err := store.Get(ctx, storeKey)
	if errors.Is(err, storage.ErrNotFound) {
		return l, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &l.entries); err != nil {
		return nil, fmt.Errorf("audit: decode: %w", err)
	}
	last, err := verify(l.entries)
	if err != nil {
		return nil, err
	}
	l.lastHash = last
	return l, nil
}

func chainHash(prev []byte, e Entry) []byte {
	h := sha256.New()
	h.Write(prev)
	h.Write([]byte(strconv.FormatInt(e.TS, 10)))
	h.Write([]byte{0})
	h.Write([]byte(e.Action))
	h.Write([]byte{0})
	h.Write([]byte(e.Subject))
	return h.Sum(nil)
}

// Append adds an entry and persists the log when it is backed by a store.
// The entry stays in memory even if persisting fails.
func (l *Log) Append(ctx context.Context, action, subject string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := Entry{TS: time.Now().Unix(), Action: action, Subject: subject}
	sum := chainHash(l.lastHash, e)
	e.Hash = hex.EncodeToString(sum)
	l.lastHash = sum
	l.entries = append(l.entries, e)
	if l.store == nil {
		return e, nil
	}
	b, err := json.Marshal(l.entries)
	if err != nil {
		return e, err
	}
	return e, l.store.Put(ctx, storeKey, b)
}

func (l *Log) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := verify(l.entries)
	return err
}

func verify(entries []Entry) ([]byte, error) {
	var prev []byte
	for i, e := range entries {
		sum := chainHash(prev, e)
		if hex.EncodeToString(sum) != e.Hash {
			return nil, fmt.Errorf("%w at entry %d", ErrChainBroken, i)
		}
		prev = sum
	}
	return prev, nil
}

func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}
