package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// FakeObject is an object held by FakeStore.
type FakeObject struct {
	Content []byte
	Options WriteOptions
}

// FakeStore is an in-memory Store for tests, with added methods for inspection.
type FakeStore struct {
	mu       sync.Mutex
	objects  map[string]FakeObject
	writes   []string
	pageSize int

	// WriteErr, when set, is returned by every Write.
	WriteErr error
	// ListCalls counts ListPage invocations.
	ListCalls int
}

// NewFakeStore returns an empty store listing pageSize keys per page (minimum 1).
func NewFakeStore(pageSize int) *FakeStore {
	if pageSize < 1 {
		pageSize = 1
	}
	return &FakeStore{
		objects:  make(map[string]FakeObject),
		pageSize: pageSize,
	}
}

// Put seeds an object without recording it as a write.
func (s *FakeStore) Put(key string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = FakeObject{Content: content}
}

func (s *FakeStore) Write(_ context.Context, key string, content []byte, opts WriteOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.WriteErr != nil {
		return s.WriteErr
	}

	c := make([]byte, len(content))
	copy(c, content)
	s.objects[key] = FakeObject{Content: c, Options: opts}
	s.writes = append(s.writes, key)
	return nil
}

func (s *FakeStore) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return obj.Content, nil
}

// ListPage lists keys in lexical order. Page tokens are offsets into that order.
func (s *FakeStore) ListPage(_ context.Context, prefix string, pageToken string) ([]string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ListCalls++

	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if pageToken != "" {
		var err error
		start, err = strconv.Atoi(pageToken)
		if err != nil {
			return nil, "", errors.Wrapf(err, "bad page token %q", pageToken)
		}
	}
	if start > len(keys) {
		start = len(keys)
	}

	end := start + s.pageSize
	next := strconv.Itoa(end)
	if end >= len(keys) {
		end = len(keys)
		next = ""
	}
	return keys[start:end], next, nil
}

func (s *FakeStore) URI(key string) string {
	return fmt.Sprintf("fake://%s", key)
}

// Get returns the object at key.
func (s *FakeStore) Get(key string) (FakeObject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Writes returns the keys written, in order.
func (s *FakeStore) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.writes))
	copy(out, s.writes)
	return out
}
