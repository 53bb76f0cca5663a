package analysis

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sudorandom/taxi-stream/pkg/utils"
)

// HTTPSource fetches the payload over HTTP. With a Cache set, every good
// response is stored and the stored copy is served when the fetch fails.
type HTTPSource struct {
	URL    string
	Client *http.Client
	Cache  *utils.PayloadCache
}

func (s *HTTPSource) String() string { return s.URL }

func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	data, err := utils.Fetch(ctx, s.Client, s.URL)
	if err == nil {
		if s.Cache != nil {
			if _, derr := Decode(data); derr == nil {
				if perr := s.Cache.Put(s.URL, data); perr != nil {
					Logf("[analysis] Failed to cache payload: %v", perr)
				}
			}
		}
		return data, nil
	}
	if s.Cache != nil {
		if stale, at, cerr := s.Cache.Get(s.URL); cerr == nil && stale != nil {
			Logf("[analysis] Fetch failed (%v), serving copy cached %s ago", err, time.Since(at).Round(time.Second))
			return stale, nil
		}
	}
	return nil, &TransportError{Source: s.URL, Err: err}
}

// FileSource reads the payload from a local file.
type FileSource struct {
	Path string
}

func (s *FileSource) String() string { return s.Path }

func (s *FileSource) Fetch(context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, &TransportError{Source: s.Path, Err: err}
	}
	return data, nil
}

// SourceFor picks an HTTP or file source from a location string.
func SourceFor(location string, client *http.Client, cache *utils.PayloadCache) Source {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return &HTTPSource{URL: location, Client: client, Cache: cache}
	}
	return &FileSource{Path: location}
}
