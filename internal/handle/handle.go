package handle

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Prefix is prepended to every handle issued by a Store.
const Prefix = "blob:"

// Handle is a revocable reference to an in-memory payload.
// The zero value is the absent handle.
type Handle string

// IsZero reports whether h is the absent handle.
func (h Handle) IsZero() bool {
	return h == ""
}

// ID returns the handle without its prefix, suitable for URL paths.
func (h Handle) ID() string {
	return strings.TrimPrefix(string(h), Prefix)
}

// Blob is the payload behind a handle.
type Blob struct {
	Data      []byte
	MediaType string
}

// Store issues handles and keeps their payloads reachable until released.
type Store struct {
	mutex   sync.RWMutex
	blobs   map[Handle]Blob
	created int64
	revoked int64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		blobs: make(map[Handle]Blob),
	}
}

// Create registers data under a new handle.
func (s *Store) Create(data []byte, mediaType string) Handle {
	h := Handle(Prefix + uuid.NewString())

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.blobs[h] = Blob{Data: data, MediaType: mediaType}
	s.created++
	return h
}

// Resolve returns the payload of a live handle.
func (s *Store) Resolve(h Handle) (Blob, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	b, ok := s.blobs[h]
	return b, ok
}

// ResolveID resolves a handle by its ID as returned from Handle.ID.
func (s *Store) ResolveID(id string) (Blob, bool) {
	return s.Resolve(Handle(Prefix + id))
}

// Release revokes h. Releasing an absent, unknown or already released
// handle is a no-op.
func (s *Store) Release(h Handle) {
	if h.IsZero() {
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.blobs[h]; !ok {
		return
	}
	delete(s.blobs, h)
	s.revoked++
}

// Outstanding returns the number of handles created and not yet released.
func (s *Store) Outstanding() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.blobs)
}

// Counts returns the total number of handles created and revoked.
func (s *Store) Counts() (created, revoked int64) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.created, s.revoked
}
