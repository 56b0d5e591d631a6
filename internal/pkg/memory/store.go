// Package memory provides an in-process artifact store with the same overwrite and
// failure semantics as the S3 backed one. It is used to exercise dispatchers and
// coordinators without an object store.
package memory

import (
	"context"
	"fmt"
	"sync"

	trainingmodel "github.com/myriadstar/trainer/internal/model/training"
)

// Store is an in-memory artifact store. Writes to a key replace the previous object.
type Store struct {
	mu       sync.Mutex
	scheme   string
	buckets  map[string]map[string][]byte
	down     bool
	failPuts int
	puts     int
	onPut    func(bucket, key string)
}

// NewStore creates an empty store producing URIs with scheme.
func NewStore(scheme string) *Store {
	if scheme == "" {
		scheme = trainingmodel.DefaultURIScheme
	}

	return &Store{
		scheme:  scheme,
		buckets: make(map[string]map[string][]byte),
	}
}

// SetDown makes every operation fail with ErrStorageUnavailable while down is true.
func (s *Store) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.down = down
}

// FailPuts makes the next n writes fail with ErrStorageUnavailable.
func (s *Store) FailPuts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failPuts = n
}

// OnPut registers fn to be called before every successful write.
func (s *Store) OnPut(fn func(bucket, key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onPut = fn
}

// URIFor returns the artifact URI for bucket and key.
func (s *Store) URIFor(bucket, key string) string {
	return trainingmodel.ArtifactURI(s.scheme, bucket, key)
}

// EnsureBucket creates the bucket if it does not exist yet.
func (s *Store) EnsureBucket(_ context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return storageUnavailable("ensure bucket")
	}

	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string][]byte)
	}

	return nil
}

// Put stores content at bucket/key.
func (s *Store) Put(_ context.Context, bucket, key string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return storageUnavailable("put object")
	}
	if s.failPuts > 0 {
		s.failPuts--
		return storageUnavailable("put object")
	}

	objects, ok := s.buckets[bucket]
	if !ok {
		return fmt.Errorf("%w: put object: no such bucket %s", trainingmodel.ErrStorageUnavailable, bucket)
	}

	if s.onPut != nil {
		s.onPut(bucket, key)
	}

	objects[key] = append([]byte(nil), content...)
	s.puts++

	return nil
}

// Get returns the object at bucket/key.
func (s *Store) Get(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return nil, storageUnavailable("get object")
	}

	content, ok := s.buckets[bucket][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", trainingmodel.ErrArtifactNotFound, s.URIFor(bucket, key))
	}

	return append([]byte(nil), content...), nil
}

// Exists reports whether an object is stored at bucket/key.
func (s *Store) Exists(_ context.Context, bucket, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return false, storageUnavailable("head object")
	}

	_, ok := s.buckets[bucket][key]
	return ok, nil
}

// Objects returns the number of objects stored in bucket.
func (s *Store) Objects(bucket string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.buckets[bucket])
}

// Puts returns the number of successful writes.
func (s *Store) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.puts
}

func storageUnavailable(op string) error {
	return fmt.Errorf("%w: %s: store is down", trainingmodel.ErrStorageUnavailable, op)
}
