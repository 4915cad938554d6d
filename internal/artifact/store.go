package artifact

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/moby/locker"
	"github.com/opencontainers/go-digest"
)

// Immutable artifact produced by a stage.
type Record struct {
	Stage   string        // Producing stage.
	Name    string        // Logical name within the producing stage.
	Digest  digest.Digest // Content digest (sha256).
	Size    int64         // Content length in bytes.
	content []byte
}

// Returns a copy of the artifact content.
func (r *Record) Bytes() []byte {
	return bytes.Clone(r.content)
}

// Returns a reader over the artifact content.
func (r *Record) Reader() io.Reader {
	return bytes.NewReader(r.content)
}

// Returns "stage/name@digest".
func (r *Record) String() string {
	return fmt.Sprintf("%s/%s@%s", r.Stage, r.Name, r.Digest)
}

// Creates a record for content without storing it.
//
// The content is copied.
func NewRecord(stage, name string, content []byte) *Record {
	c := bytes.Clone(content)
	if c == nil {
		c = []byte{}
	}
	return &Record{
		Stage:   stage,
		Name:    name,
		Digest:  digest.FromBytes(c),
		Size:    int64(len(c)),
		content: c,
	}
}

// Append-only, content-addressed artifact store scoped to one invocation.
type Store struct {
	locks   *locker.Locker // Per-key locks.
	records sync.Map       // key -> *Record
}

// Creates an empty [Store].
func NewStore() *Store {
	return &Store{locks: locker.New()}
}

// Stores content under (stage, name) and returns the new record.
//
// The digest is computed from the content, so identical bytes always yield
// the same digest. Fails with [ErrExists] if the key was already written.
func (s *Store) Put(stage, name string, content []byte) (*Record, error) {
	k := key(stage, name)

	s.locks.Lock(k)
	defer s.locks.Unlock(k)

	if _, ok := s.records.Load(k); ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrExists, stage, name)
	}

	rec := NewRecord(stage, name, content)
	s.records.Store(k, rec)
	return rec, nil
}

// Returns the record stored under (stage, name).
//
// Fails with [ErrNotFound] if no such artifact has been produced.
func (s *Store) Get(stage, name string) (*Record, error) {
	k := key(stage, name)

	s.locks.Lock(k)
	defer s.locks.Unlock(k)

	v, ok := s.records.Load(k)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, stage, name)
	}
	return v.(*Record), nil
}

// Returns the number of stored records.
func (s *Store) Len() int {
	n := 0
	s.records.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Builds the map key for (stage, name). Stage identifiers cannot contain a
// slash, so the key is unambiguous.
func key(stage, name string) string {
	return stage + "/" + name
}
