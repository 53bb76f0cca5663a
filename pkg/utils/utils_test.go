package utils

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCacheFileName(t *testing.T) {
	tests := []struct {
		url, prefix, want string
	}{
		{"https://a.tile.openstreetmap.org/12/2890/1320.png", "[tiles]", "tiles_a.tile.openstreetmap.org_12_2890_1320.png"},
		{"https://a.tile.openstreetmap.org/12/2891/1320.png", "", "a.tile.openstreetmap.org_12_2891_1320.png"},
		{"http://localhost:8080/analysis.json", "[analysis data]", "analysis_data_localhost_8080_analysis.json"},
	}
	for _, tt := range tests {
		if got := CacheFileName(tt.url, tt.prefix); got != tt.want {
			t.Errorf("CacheFileName(%q, %q) = %q, want %q", tt.url, tt.prefix, got, tt.want)
		}
	}
}

func TestGetCachedReaderDownloadsOnce(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = io.WriteString(w, "tile-bytes")
	}))
	defer srv.Close()

	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		r, err := GetCachedReader(context.Background(), srv.Client(), srv.URL+"/1/2/3.png", dir, "[tiles]")
		if err != nil {
			t.Fatalf("GetCachedReader: %v", err)
		}
		b, _ := io.ReadAll(r)
		_ = r.Close()
		if string(b) != "tile-bytes" {
			t.Errorf("body = %q, want %q", b, "tile-bytes")
		}
	}
	if hits != 1 {
		t.Errorf("server hits = %d, want 1", hits)
	}
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := Fetch(context.Background(), nil, srv.URL)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Fetch error = %v, want ErrNotFound", err)
	}
}
