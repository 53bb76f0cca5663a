package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Source fetches the raw analytics payload.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	String() string
}

// TransportError wraps a failure to fetch the payload.
type TransportError struct {
	Source string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch analysis data from %s: %v", e.Source, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Store loads the dataset once and caches it until Clear is called.
// Concurrent loads share a single fetch.
type Store struct {
	src   Source
	group singleflight.Group

	mu      sync.RWMutex
	cached  *Dataset
	gen     uint64
	fetches int
}

func NewStore(src Source) *Store {
	return &Store{src: src}
}

// Load returns the cached dataset, fetching and validating it on first use.
// Errors are *ValidationError or *TransportError.
func (s *Store) Load(ctx context.Context) (*Dataset, error) {
	if ds := s.Cached(); ds != nil {
		return ds, nil
	}

	ch := s.group.DoChan("load", func() (any, error) {
		s.mu.Lock()
		if s.cached != nil {
			ds := s.cached
			s.mu.Unlock()
			return ds, nil
		}
		gen := s.gen
		s.fetches++
		s.mu.Unlock()

		// Shared by every waiter; detached from the first caller's cancellation.
		data, err := s.src.Fetch(context.WithoutCancel(ctx))
		if err != nil {
			var te *TransportError
			if !errors.As(err, &te) {
				err = &TransportError{Source: s.src.String(), Err: err}
			}
			return nil, err
		}
		ds, err := Decode(data)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		if s.gen == gen {
			s.cached = ds
		}
		s.mu.Unlock()
		Logf("[analysis] Loaded %d records from %s (%d layers with data)", ds.Metadata.TotalRecords, s.src, len(ds.NonEmpty()))
		return ds, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Dataset), nil
	}
}

// Cached returns the cached dataset or nil.
func (s *Store) Cached() *Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached
}

// Clear evicts the cache so the next Load fetches again. A load already in
// flight does not repopulate the cache.
func (s *Store) Clear() {
	s.mu.Lock()
	s.cached = nil
	s.gen++
	s.mu.Unlock()
	s.group.Forget("load")
}

// Fetches returns how many times the source has been hit.
func (s *Store) Fetches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetches
}

// LayerMetadata summarises the cached dataset. It returns nil before the
// first successful load.
func (s *Store) LayerMetadata() []LayerInfo {
	ds := s.Cached()
	if ds == nil {
		return nil
	}
	return LayerMetadata(ds)
}
