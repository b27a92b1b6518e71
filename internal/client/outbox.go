package client

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/gofrs/uuid/v5"
)

var (
	counterKey    = []byte("meta:local_id")
	sessionKey    = []byte("meta:session")
	pendingPrefix = []byte("pending:")
)

// Outbox durably stores pending entities and the local id counter so that
// a restarted client neither loses unsent creates nor reuses a local id.
type Outbox struct {
	db *pebble.DB
}

// OpenOutbox opens (or creates) the outbox at dir. A nil fs means the OS
// filesystem; tests pass vfs.NewMem().
func OpenOutbox(dir string, fs vfs.FS) (*Outbox, error) {
	opts := &pebble.Options{}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}
	return &Outbox{db: db}, nil
}

// Close flushes and closes the store.
func (o *Outbox) Close() error {
	if o == nil || o.db == nil {
		return nil
	}
	return o.db.Close()
}

// LastLocalID returns the highest local id counter ever persisted.
func (o *Outbox) LastLocalID() (uint64, error) {
	v, closer, err := o.db.Get(counterKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(v) != 8 {
		return 0, fmt.Errorf("outbox: corrupt local id counter (%d bytes)", len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

// SessionID returns the id this outbox's creates are sent under, minting
// one on first use. Local ids are only unique within it.
func (o *Outbox) SessionID() (string, error) {
	v, closer, err := o.db.Get(sessionKey)
	if err == nil {
		defer closer.Close()
		return string(v), nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return "", err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	if err := o.db.Set(sessionKey, []byte(id.String()), pebble.Sync); err != nil {
		return "", err
	}
	return id.String(), nil
}

// Create stores a new pending entity together with the counter value used
// for its local id, atomically.
func (o *Outbox) Create(p Pending, counter uint64) error {
	val, err := json.Marshal(p)
	if err != nil {
		return err
	}
	var c [8]byte
	binary.BigEndian.PutUint64(c[:], counter)

	b := o.db.NewBatch()
	defer b.Close()
	if err := b.Set(counterKey, c[:], nil); err != nil {
		return err
	}
	if err := b.Set(pendingKey(p.LocalID), val, nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// Put overwrites a pending entity.
func (o *Outbox) Put(p Pending) error {
	val, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return o.db.Set(pendingKey(p.LocalID), val, pebble.Sync)
}

// Delete forgets a pending entity.
func (o *Outbox) Delete(localID string) error {
	return o.db.Delete(pendingKey(localID), pebble.Sync)
}

// List returns every stored entity in key order.
func (o *Outbox) List() ([]Pending, error) {
	upper := append(bytes.Clone(pendingPrefix[:len(pendingPrefix)-1]), pendingPrefix[len(pendingPrefix)-1]+1)
	it, err := o.db.NewIter(&pebble.IterOptions{LowerBound: pendingPrefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Pending
	for ok := it.First(); ok; ok = it.Next() {
		var p Pending
		if err := json.Unmarshal(it.Value(), &p); err != nil {
			return nil, fmt.Errorf("outbox %s: %w", it.Key(), err)
		}
		out = append(out, p)
	}
	return out, it.Error()
}

func pendingKey(localID string) []byte {
	return append(bytes.Clone(pendingPrefix), localID...)
}
