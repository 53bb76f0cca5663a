package viewer

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"sync"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/sudorandom/taxi-stream/pkg/utils"
)

const (
	maxTileFetches = 4
	maxTiles       = 512
)

// tileCache fetches basemap tiles in the background. Draw only ever sees
// tiles that are already decoded.
type tileCache struct {
	client *http.Client
	dir    string

	mu      sync.Mutex
	decoded map[string]image.Image
	images  map[string]*ebiten.Image
	pending map[string]bool
	failed  map[string]bool
	sem     chan struct{}
}

func newTileCache(client *http.Client, dir string) *tileCache {
	return &tileCache{
		client:  client,
		dir:     dir,
		decoded: make(map[string]image.Image),
		images:  make(map[string]*ebiten.Image),
		pending: make(map[string]bool),
		failed:  make(map[string]bool),
		sem:     make(chan struct{}, maxTileFetches),
	}
}

// get returns the tile image for url, or nil while it is still loading.
func (c *tileCache) get(ctx context.Context, url string) *ebiten.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	if img, ok := c.images[url]; ok {
		return img
	}
	if src, ok := c.decoded[url]; ok {
		img := ebiten.NewImageFromImage(src)
		delete(c.decoded, url)
		if len(c.images) >= maxTiles {
			for k, old := range c.images {
				old.Deallocate()
				delete(c.images, k)
			}
		}
		c.images[url] = img
		return img
	}
	if c.pending[url] || c.failed[url] {
		return nil
	}
	c.pending[url] = true
	go c.fetch(ctx, url)
	return nil
}

func (c *tileCache) fetch(ctx context.Context, url string) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		c.finish(url, nil)
		return
	}
	defer func() { <-c.sem }()

	var src image.Image
	rc, err := utils.GetCachedReader(ctx, c.client, url, c.dir, "[tiles]")
	if err == nil {
		src, _, err = image.Decode(rc)
		_ = rc.Close()
	}
	if err != nil {
		Logf("[viewer] Failed to load tile %s: %v", url, err)
	}
	c.finish(url, src)
}

func (c *tileCache) finish(url string, src image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, url)
	if src == nil {
		c.failed[url] = true
		return
	}
	c.decoded[url] = src
}
