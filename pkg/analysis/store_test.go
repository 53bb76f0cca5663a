package analysis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudorandom/taxi-stream/pkg/utils"
)

type countingSource struct {
	data  []byte
	err   error
	calls atomic.Int32
	gate  chan struct{}
}

func (s *countingSource) String() string { return "test" }

func (s *countingSource) Fetch(ctx context.Context) ([]byte, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	return s.data, s.err
}

func TestStoreLoadCaches(t *testing.T) {
	quiet(t)
	src := &countingSource{data: fixture(t)}
	store := NewStore(src)

	first, err := store.Load(context.Background())
	require.NoError(t, err)
	second, err := store.Load(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, src.calls.Load())
	assert.Equal(t, 1, store.Fetches())
}

func TestStoreClearForcesRefetch(t *testing.T) {
	quiet(t)
	src := &countingSource{data: fixture(t)}
	store := NewStore(src)

	_, err := store.Load(context.Background())
	require.NoError(t, err)
	store.Clear()
	assert.Nil(t, store.Cached())
	assert.Nil(t, store.LayerMetadata())

	_, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
	assert.Len(t, store.LayerMetadata(), len(AllLayers))
}

func TestStoreConcurrentLoadsShareOneFetch(t *testing.T) {
	quiet(t)
	src := &countingSource{data: fixture(t), gate: make(chan struct{})}
	store := NewStore(src)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*Dataset, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ds, err := store.Load(context.Background())
			if err != nil {
				t.Errorf("Load: %v", err)
			}
			results[i] = ds
		}(i)
	}
	// Let the goroutines pile up behind the gated fetch.
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.EqualValues(t, 1, src.calls.Load())
	for _, ds := range results[1:] {
		assert.Same(t, results[0], ds)
	}
}

func TestStoreValidationErrorNotCached(t *testing.T) {
	quiet(t)
	src := &countingSource{data: []byte(`{"layers":{}}`)}
	store := NewStore(src)

	_, err := store.Load(context.Background())
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Nil(t, store.Cached())

	src.data = fixture(t)
	_, err = store.Load(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestStoreTransportError(t *testing.T) {
	quiet(t)
	cause := errors.New("connection refused")
	store := NewStore(&countingSource{err: cause})

	_, err := store.Load(context.Background())
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, cause)
}

func TestStoreLoadHonoursContext(t *testing.T) {
	quiet(t)
	src := &countingSource{data: fixture(t), gate: make(chan struct{})}
	defer close(src.gate)
	store := NewStore(src)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHTTPSourceServesStaleOnFailure(t *testing.T) {
	quiet(t)
	payload := fixture(t)
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	cache, err := utils.OpenPayloadCache(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	defer func() { _ = cache.Close() }()

	src := &HTTPSource{URL: srv.URL + "/analysis.json", Client: srv.Client(), Cache: cache}
	got, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	fail.Store(true)
	got, err = src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	uncached := &HTTPSource{URL: srv.URL + "/other.json", Client: srv.Client()}
	_, err = uncached.Fetch(context.Background())
	var te *TransportError
	assert.ErrorAs(t, err, &te)
}

func TestFileSourceMissing(t *testing.T) {
	src := &FileSource{Path: filepath.Join(t.TempDir(), "nope.json")}
	_, err := src.Fetch(context.Background())
	var te *TransportError
	assert.ErrorAs(t, err, &te)
}

func TestSourceFor(t *testing.T) {
	if _, ok := SourceFor("https://example.com/a.json", nil, nil).(*HTTPSource); !ok {
		t.Error("https location did not yield an HTTPSource")
	}
	if _, ok := SourceFor("data/analysis.json", nil, nil).(*FileSource); !ok {
		t.Error("path location did not yield a FileSource")
	}
}
