package state

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// Kind identifies one of the replicated entity buckets.
type Kind string

const (
	KindAccount     Kind = "accounts"
	KindNode        Kind = "nodes"
	KindInstance    Kind = "instances"
	KindPeer        Kind = "peers"
	KindCIDR        Kind = "cidrs"
	KindAssociation Kind = "associations"
	KindDnsRecord   Kind = "dns_records"
	KindOperation   Kind = "operations"
)

var allKinds = []Kind{
	KindAccount, KindNode, KindInstance, KindPeer,
	KindCIDR, KindAssociation, KindDnsRecord, KindOperation,
}

// Store is the bbolt-backed CRDT register store. Grounded on the teacher's
// pkg/storage.BoltStore, generalized from one bucket per Warren entity to
// one bucket per fabric entity Kind, each holding signed registers instead
// of bare JSON documents.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "fabric.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", dbPath, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, k := range allKinds {
			if _, err := tx.CreateBucketIfNotExists([]byte(k)); err != nil {
				return fmt.Errorf("state: create bucket %s: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Get returns the current register for key in kind, or ok=false if absent.
func (s *Store) Get(kind Kind, key string) (Register, bool, error) {
	var reg Register
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("state: unknown kind %s", kind)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &reg)
	})
	return reg, found, err
}

// List returns every key/register pair currently stored for kind.
func (s *Store) List(kind Kind) (map[string]Register, error) {
	out := make(map[string]Register)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("state: unknown kind %s", kind)
		}
		return b.ForEach(func(k, v []byte) error {
			var reg Register
			if err := json.Unmarshal(v, &reg); err != nil {
				return err
			}
			out[string(k)] = reg
			return nil
		})
	})
	return out, err
}

// Merge applies incoming as a CRDT merge against the stored register for
// key: incoming is written only if it Wins() against whatever is already
// stored. Returns whether the write took effect.
func (s *Store) Merge(kind Kind, key string, incoming Register) (bool, error) {
	applied := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("state: unknown kind %s", kind)
		}
		existingData := b.Get([]byte(key))
		if existingData != nil {
			var existing Register
			if err := json.Unmarshal(existingData, &existing); err != nil {
				return err
			}
			if !incoming.Wins(existing) {
				return nil
			}
		}
		data, err := json.Marshal(incoming)
		if err != nil {
			return err
		}
		applied = true
		return b.Put([]byte(key), data)
	})
	return applied, err
}

// Delete tombstones key by removing it outright. The CRDT datastore does
// not track tombstones across compaction; spec.md's consistency model only
// requires eventual convergence of live entries, not of deletions racing
// concurrent writes.
func (s *Store) Delete(kind Kind, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("state: unknown kind %s", kind)
		}
		return b.Delete([]byte(key))
	})
}
