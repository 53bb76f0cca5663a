package mapview

import (
	"context"
	"log"
	"sync"

	"github.com/sudorandom/taxi-stream/pkg/analysis"
	"github.com/sudorandom/taxi-stream/pkg/layers"
)

// Logf receives load failures.
var Logf = log.Printf

// Loader connects the dataset store and layer controller to a surface. It
// owns the loading and error states of the map view.
type Loader struct {
	Store   *analysis.Store
	Layers  *layers.Controller
	Surface *Surface

	mu sync.Mutex
}

// Load fetches the dataset (cached after the first success) and mounts it.
// On failure the surface shows the error and nothing else.
func (l *Loader) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.Surface.SetLoading()
	ds, err := l.Store.Load(ctx)
	if err != nil {
		Logf("[mapview] Failed to load analysis data: %v", err)
		l.Surface.SetError(err)
		return err
	}
	l.Layers.SetDataset(ds)
	l.Surface.Show(ds, l.Layers.Active())
	return nil
}

// Retry evicts the cached dataset and loads again.
func (l *Loader) Retry(ctx context.Context) error {
	l.Store.Clear()
	return l.Load(ctx)
}

// Watch keeps the surface in step with the controller until ctx is done.
// The subscription is in place when Watch returns; the returned channel is
// closed once the watcher has stopped. The bus drops events for slow
// subscribers, so each wakeup syncs against the controller's current set
// rather than the snapshot carried by the event.
func (l *Loader) Watch(ctx context.Context) <-chan struct{} {
	ch := l.Layers.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer l.Layers.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				reset, open := drain(ch, e.Reason == layers.ReasonReset)
				if reset && l.Layers.Dataset() == nil {
					l.Surface.Clear()
				} else {
					l.Surface.Sync(l.Layers.Active())
				}
				if !open {
					return
				}
			}
		}
	}()
	return done
}

// drain empties ch without blocking and reports whether any pending change
// was a reset and whether ch is still open.
func drain(ch <-chan layers.Change, reset bool) (bool, bool) {
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return reset, false
			}
			reset = reset || e.Reason == layers.ReasonReset
		default:
			return reset, true
		}
	}
}
