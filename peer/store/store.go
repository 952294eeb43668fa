// Package store implements an optional, passphrase-protected local
// transcript of a peer's sent/received messages and completed
// transfers. It is a client-side convenience cache for the shell to
// show history across runs — it never seeds or restores broker-side
// presence or in-flight transfer state, so it is not a reintroduction
// of the "no persistence across restarts" protocol non-goal.
//
// Grounded on the StateWriter/GetStateFromFile pattern: a single
// writer goroutine owns the on-disk file, records are encrypted with
// NaCl secretbox under an argon2-derived key, and List decrypts the
// stored records on demand.
package store

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/foxrelay/foxrelay/internal/worker"
)

const (
	keySize   = 32
	nonceSize = 24

	bucketTranscript = "transcript"
)

// Record is one logged event: a message or a completed transfer, kept
// for local history only.
type Record struct {
	At        time.Time `json:"at"`
	Kind      string    `json:"kind"` // "message" | "file"
	PeerID    string    `json:"peer_id"`
	Outbound  bool      `json:"outbound"`
	Text      string    `json:"text,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	SavedPath string    `json:"saved_path,omitempty"`
	Size      int64     `json:"size,omitempty"`
}

// Store is a single-writer, encrypted-at-rest transcript log backed by
// bbolt.
type Store struct {
	worker.Worker

	db    *bbolt.DB
	key   [keySize]byte
	ch    chan Record
	mu    sync.Mutex
	seq   uint64
}

// Open opens (creating if necessary) the bbolt file at path, deriving
// the encryption key from passphrase via argon2, matching
// GetStateFromFile's key derivation parameters.
func Open(path string, passphrase []byte) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	var lastSeq uint64
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketTranscript))
		if err != nil {
			return err
		}
		// Continue numbering after records left by an earlier run so
		// they are not overwritten.
		if k, _ := b.Cursor().Last(); k != nil {
			if _, err := fmt.Sscanf(string(k), "%d", &lastSeq); err != nil {
				return fmt.Errorf("store: bad record key %q: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init bucket: %w", err)
	}

	s := &Store{db: db, ch: make(chan Record, 64), seq: lastSeq}
	secret := argon2.Key(passphrase, []byte("foxrelay-transcript-salt"), 3, 32*1024, 4, keySize)
	copy(s.key[:], secret)

	s.Go(s.writer)
	return s, nil
}

// Append enqueues rec for asynchronous, encrypted persistence. It
// returns without waiting for the write unless 64 records are already
// queued, in which case it blocks until the writer takes one.
func (s *Store) Append(rec Record) {
	select {
	case s.ch <- rec:
	case <-s.HaltCh():
	}
}

// Close stops the writer goroutine and closes the database.
func (s *Store) Close() error {
	s.Halt()
	s.Wait()
	return s.db.Close()
}

func (s *Store) writer() {
	for {
		select {
		case <-s.HaltCh():
			return
		case rec, ok := <-s.ch:
			if !ok {
				return
			}
			if err := s.persist(rec); err != nil {
				// Best-effort: a failed transcript write never blocks
				// the protocol core.
				continue
			}
		}
	}
}

func (s *Store) persist(rec Record) error {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return err
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &s.key)

	s.mu.Lock()
	s.seq++
	id := s.seq
	s.mu.Unlock()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTranscript))
		return b.Put(seqKey(id), sealed)
	})
}

// List decrypts and returns every stored record in insertion order.
func (s *Store) List() ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketTranscript))
		return b.ForEach(func(_, v []byte) error {
			if len(v) < nonceSize {
				return errors.New("store: corrupt record")
			}
			var nonce [nonceSize]byte
			copy(nonce[:], v[:nonceSize])
			plaintext, ok := secretbox.Open(nil, v[nonceSize:], &nonce, &s.key)
			if !ok {
				return errors.New("store: failed to decrypt record")
			}
			var rec Record
			if err := json.Unmarshal(plaintext, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

func seqKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%020d", id))
}
