package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/n3c4s/alohomora/internal/storage"
	"github.com/n3c4s/alohomora/internal/totp"
)

const entryPrefix = "entry/"

// Entry is a decrypted password entry. It only exists in memory while the
// vault is unlocked.
type Entry struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Username string `json:"username"`
	Password string `json:"password"`
	URL      string `json:"url,omitempty"`
	Notes    string `json:"notes,omitempty"`
	Category string `json:"category,omitempty"`
	Favorite bool   `json:"favorite"`
	// TOTPSecret is the base32 authenticator secret, if the site uses one.
	TOTPSecret string    `json:"totp_secret,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Version    uint64    `json:"version"`
}

// Record is the stored and synchronized form of an entry. Only the payload
// carries entry content.
type Record struct {
	ID        string           `json:"id"`
	Version   uint64           `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
	Payload   EncryptedPayload `json:"payload"`
}

type MutationKind int

const (
	MutationCreated MutationKind = iota
	MutationModified
	MutationDeleted
)

// Mutation describes a local change. Data is the encoded Record, so it is
// ciphertext only; it is nil for deletions.
type Mutation struct {
	ElementID    string
	Kind         MutationKind
	Data         []byte
	PreviousData []byte
	Version      uint64
}

// ChangeSink receives every local mutation, typically the sync engine.
type ChangeSink interface {
	RecordMutation(ctx context.Context, m Mutation) error
}

type EntryStore struct {
	state *State
	blobs storage.BlobStore

	mu   sync.Mutex
	sink ChangeSink
}

func NewEntryStore(state *State, blobs storage.BlobStore) *EntryStore {
	return &EntryStore{state: state, blobs: blobs}
}

func (s *EntryStore) SetChangeSink(sink ChangeSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

func entryKey(id string) string { return entryPrefix + id }

func entryAAD(id string) []byte { return []byte("entry:" + id) }

func validateEntry(e Entry) error {
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidEntry)
	}
	if e.Password == "" {
		return fmt.Errorf("%w: password required", ErrInvalidEntry)
	}
	if e.TOTPSecret != "" && !totp.ValidSecret(e.TOTPSecret) {
		return fmt.Errorf("%w: totp secret is not base32", ErrInvalidEntry)
	}
	return nil
}

func (s *EntryStore) Create(ctx context.Context, e Entry) (Entry, error) {
	if !s.state.IsUnlocked() {
		return Entry{}, ErrNotUnlocked
	}
	if err := validateEntry(e); err != nil {
		return Entry{}, err
	}
	now := time.Now().UTC()
	e.ID = uuid.NewString()
	e.CreatedAt, e.UpdatedAt = now, now
	e.Version = 1

	data, err := s.put(ctx, e)
	if err != nil {
		return Entry{}, err
	}
	return e, s.notify(ctx, Mutation{ElementID: e.ID, Kind: MutationCreated, Data: data, Version: e.Version})
}

func (s *EntryStore) Get(ctx context.Context, id string) (Entry, error) {
	rec, _, err := s.load(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	return s.decrypt(rec)
}

func (s *EntryStore) Update(ctx context.Context, id string, upd Entry) (Entry, error) {
	if err := validateEntry(upd); err != nil {
		return Entry{}, err
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	_, prev, err := s.load(ctx, id)
	if err != nil {
		return Entry{}, err
	}

	upd.ID = id
	upd.CreatedAt = cur.CreatedAt
	upd.UpdatedAt = time.Now().UTC()
	upd.Version = cur.Version + 1

	data, err := s.put(ctx, upd)
	if err != nil {
		return Entry{}, err
	}
	return upd, s.notify(ctx, Mutation{
		ElementID: id, Kind: MutationModified, Data: data, PreviousData: prev, Version: upd.Version,
	})
}

func (s *EntryStore) Delete(ctx context.Context, id string) error {
	if !s.state.IsUnlocked() {
		return ErrNotUnlocked
	}
	rec, prev, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, entryKey(id)); err != nil {
		return err
	}
	return s.notify(ctx, Mutation{
		ElementID: id, Kind: MutationDeleted, PreviousData: prev, Version: rec.Version + 1,
	})
}

// List decrypts every entry, newest first.
func (s *EntryStore) List(ctx context.Context) ([]Entry, error) {
	if !s.state.IsUnlocked() {
		return nil, ErrNotUnlocked
	}
	ids, err := s.blobs.List(ctx, entryPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(ids))
	for _, key := range ids {
		e, err := s.Get(ctx, strings.TrimPrefix(key, entryPrefix))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// ApplyRemote stores a record received from a peer without decrypting it.
// A nil data deletes the entry. Older versions than the stored one are
// ignored.
func (s *EntryStore) ApplyRemote(ctx context.Context, id string, data []byte) error {
	if data == nil {
		return s.blobs.Delete(ctx, entryKey(id))
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("vault: decode remote record: %w", err)
	}
	if rec.ID != id {
		return fmt.Errorf("%w: record id %q does not match %q", ErrInvalidEntry, rec.ID, id)
	}
	if err := rec.Payload.validate(); err != nil {
		return err
	}
	cur, _, err := s.load(ctx, id)
	if err == nil && cur.Version > rec.Version {
		return nil
	}
	if err != nil && !errors.Is(err, ErrEntryNotFound) {
		return err
	}
	return s.blobs.Put(ctx, entryKey(id), data)
}

func (s *EntryStore) put(ctx context.Context, e Entry) ([]byte, error) {
	pt, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	payload, err := s.state.seal(pt, entryAAD(e.ID))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(Record{ID: e.ID, Version: e.Version, UpdatedAt: e.UpdatedAt, Payload: payload})
	if err != nil {
		return nil, err
	}
	if err := s.blobs.Put(ctx, entryKey(e.ID), data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *EntryStore) load(ctx context.Context, id string) (Record, []byte, error) {
	raw, err := s.blobs.Get(ctx, entryKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return Record{}, nil, ErrEntryNotFound
	}
	if err != nil {
		return Record{}, nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, nil, fmt.Errorf("vault: decode record %s: %w", id, err)
	}
	return rec, raw, nil
}

func (s *EntryStore) decrypt(rec Record) (Entry, error) {
	pt, err := s.state.open(rec.Payload, entryAAD(rec.ID))
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(pt, &e); err != nil {
		return Entry{}, fmt.Errorf("vault: decode entry %s: %w", rec.ID, err)
	}
	return e, nil
}

func (s *EntryStore) notify(ctx context.Context, m Mutation) error {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.RecordMutation(ctx, m)
}
